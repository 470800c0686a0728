package bm13xx

import (
	"bytes"
	"encoding/binary"

	"asic_miner/device/hwerr"
)

const (
	CmdSetAddress    = 0x00
	CmdWriteRegister = 0x01
	CmdReadRegister  = 0x02
	CmdChainInactive = 0x03

	typeCommand   = 0x40
	typeBroadcast = 0x10
	typeWork      = 0x21

	workLen      = 0x56
	WorkFrameLen = workLen + 2
	ResponseLen  = 11

	flagNonce = 0x80
)

const (
	RegChipID      = 0x00
	RegPLL0        = 0x08
	RegTicketMask  = 0x14
	RegUARTBaud    = 0x28
	RegVersionMask = 0xa4
)

var (
	cmdPreamble  = []byte{0x55, 0xaa}
	respPreamble = []byte{0xaa, 0x55}
)

// EncodeCommand builds 55 AA | type | len | payload | crc5.
// len counts everything after the preamble.
func EncodeCommand(cmd uint8, broadcast bool, payload []byte) []byte {
	t := uint8(typeCommand) | cmd
	if broadcast {
		t |= typeBroadcast
	}
	frame := make([]byte, 0, len(payload)+5)
	frame = append(frame, cmdPreamble...)
	frame = append(frame, t, uint8(len(payload)+3))
	frame = append(frame, payload...)
	return append(frame, CRC5(frame[2:]))
}

func ReadRegister(chip, reg uint8, broadcast bool) []byte {
	return EncodeCommand(CmdReadRegister, broadcast, []byte{chip, reg})
}

// WriteRegister sends value big endian.
func WriteRegister(chip, reg uint8, value uint32, broadcast bool) []byte {
	p := []byte{chip, reg, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(p[2:], value)
	return EncodeCommand(CmdWriteRegister, broadcast, p)
}

func SetChipAddress(addr uint8) []byte {
	return EncodeCommand(CmdSetAddress, false, []byte{addr, 0x00})
}

func ChainInactive() []byte {
	return EncodeCommand(CmdChainInactive, true, []byte{0x00, 0x00})
}

// Work is the 82 byte job body, laid out little endian as sent.
type Work struct {
	JobID         uint8
	NumMidstates  uint8
	StartingNonce uint32
	NBits         uint32
	NTime         uint32
	MerkleRoot    [32]byte
	PrevHash      [32]byte
	Version       uint32
}

func EncodeWork(w Work) []byte {
	var buf bytes.Buffer
	buf.Write(cmdPreamble)
	buf.WriteByte(typeWork)
	buf.WriteByte(workLen)
	_ = binary.Write(&buf, binary.LittleEndian, &w)
	frame := buf.Bytes()
	return binary.BigEndian.AppendUint16(frame, CRC16(frame[2:]))
}

// DecodeWork is the chip side of EncodeWork.
func DecodeWork(frame []byte) (Work, error) {
	var w Work
	if len(frame) != WorkFrameLen || !bytes.HasPrefix(frame, cmdPreamble) || frame[2] != typeWork {
		return w, &hwerr.CorruptFrame{Reason: "work layout", Frame: frame}
	}
	if CRC16(frame[2:WorkFrameLen-2]) != binary.BigEndian.Uint16(frame[WorkFrameLen-2:]) {
		return w, &hwerr.CorruptFrame{Reason: "crc16", Frame: frame}
	}
	err := binary.Read(bytes.NewReader(frame[4:WorkFrameLen-2]), binary.LittleEndian, &w)
	return w, err
}

type ResponseKind int

const (
	KindRegister ResponseKind = iota
	KindNonce
)

// Response is one 11 byte chip frame.
type Response struct {
	Kind  ResponseKind
	Chip  uint8
	Value uint32 // register value or nonce
	Reg   uint8
	JobID uint8
	Core  uint8
	// VersionBits is already shifted into header position.
	VersionBits uint32
}

func EncodeResponse(r Response) []byte {
	frame := make([]byte, ResponseLen)
	copy(frame, respPreamble)
	var flags uint8
	switch r.Kind {
	case KindNonce:
		binary.LittleEndian.PutUint32(frame[2:], r.Value)
		frame[6] = r.Chip
		frame[7] = r.JobID&0xf8 | r.Core&0x07
		binary.BigEndian.PutUint16(frame[8:], uint16(r.VersionBits>>13))
		flags = flagNonce >> 5
	default:
		binary.BigEndian.PutUint32(frame[2:], r.Value)
		frame[6] = r.Chip
		frame[7] = r.Reg
	}
	frame[10] = flags << 5
	crc := crc5Bits(frame[2:], (ResponseLen-3)*8+3)
	frame[10] |= crc
	return frame
}

func decodeResponse(frame []byte) (Response, error) {
	if CRC5(frame[2:ResponseLen]) != 0 {
		return Response{}, &hwerr.CorruptFrame{Reason: "crc5", Frame: append([]byte(nil), frame[:ResponseLen]...)}
	}
	r := Response{Chip: frame[6]}
	if frame[10]&flagNonce != 0 {
		r.Kind = KindNonce
		r.Value = binary.LittleEndian.Uint32(frame[2:])
		r.JobID = frame[7] & 0xf8
		r.Core = frame[7] & 0x07
		r.VersionBits = uint32(binary.BigEndian.Uint16(frame[8:])) << 13
		return r, nil
	}
	r.Kind = KindRegister
	r.Value = binary.BigEndian.Uint32(frame[2:])
	r.Reg = frame[7]
	return r, nil
}

// Decoder splits the chip byte stream into responses, resyncing on the
// AA 55 preamble after garbage or a failed crc.
type Decoder struct {
	buf     []byte
	Skipped uint64
}

func (my *Decoder) Feed(p []byte) {
	my.buf = append(my.buf, p...)
}

func (my *Decoder) Buffered() int { return len(my.buf) }

// Next returns ok=false when more bytes are needed. A CorruptFrame error
// means one frame was dropped; keep calling Next.
func (my *Decoder) Next() (Response, bool, error) {
	idx := bytes.Index(my.buf, respPreamble)
	if idx < 0 {
		keep := 0
		if n := len(my.buf); n > 0 && my.buf[n-1] == respPreamble[0] {
			keep = 1
		}
		my.Skipped += uint64(len(my.buf) - keep)
		my.buf = append(my.buf[:0], my.buf[len(my.buf)-keep:]...)
		return Response{}, false, nil
	}
	if idx > 0 {
		my.Skipped += uint64(idx)
		my.buf = my.buf[idx:]
	}
	if len(my.buf) < ResponseLen {
		return Response{}, false, nil
	}
	r, err := decodeResponse(my.buf)
	if err != nil {
		// skip this preamble only; a real frame may start inside
		my.buf = my.buf[1:]
		return Response{}, true, err
	}
	my.buf = my.buf[ResponseLen:]
	return r, true, nil
}
