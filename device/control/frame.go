package control

import (
	"fmt"

	"asic_miner/device/hwerr"
)

// Page selects the peripheral a control frame is addressed to.
type Page uint8

const (
	PageI2C  Page = 0x05
	PageGPIO Page = 0x06
	PageADC  Page = 0x07
)

func (p Page) Valid() bool {
	return p == PageI2C || p == PageGPIO || p == PageADC
}

func (p Page) String() string {
	switch p {
	case PageI2C:
		return "i2c"
	case PageGPIO:
		return "gpio"
	case PageADC:
		return "adc"
	}
	return fmt.Sprintf("page(0x%02x)", uint8(p))
}

const (
	CmdGPIOSet     uint8 = 0x01
	CmdGPIOGet     uint8 = 0x02
	CmdADCRead     uint8 = 0x01
	CmdI2CTransfer uint8 = 0x01
)

const (
	StatusOK       uint8 = 0x00
	StatusBadCmd   uint8 = 0x01
	StatusBadArg   uint8 = 0x02
	StatusI2CNack  uint8 = 0x03
	StatusInternal uint8 = 0x7f
)

// header is type, length, seq, cmd|status; one crc byte follows the payload
const (
	headerLen   = 4
	overhead    = headerLen + 1
	MaxPayload  = 0xff
	MaxFrameLen = overhead + MaxPayload
)

type Request struct {
	Page    Page
	Seq     uint8
	Cmd     uint8
	Payload []byte
}

type Response struct {
	Page    Page
	Seq     uint8
	Status  uint8
	Payload []byte
}

// Codec frames control traffic. DecodeResponse looks at the head of buf and
// returns the bytes consumed; zero with a nil error means a partial frame.
type Codec interface {
	EncodeRequest(req Request) ([]byte, error)
	DecodeResponse(buf []byte) (Response, int, error)
}

// RawCodec is the bitaxe-raw style frame:
//
//	type:1 | length:1 | seq:1 | cmd or status:1 | payload[length] | crc8:1
type RawCodec struct{}

func encode(page Page, seq, b3 uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, hwerr.Invalid("payload length", len(payload), "exceeds 255")
	}
	frame := make([]byte, 0, overhead+len(payload))
	frame = append(frame, uint8(page), uint8(len(payload)), seq, b3)
	frame = append(frame, payload...)
	return append(frame, CRC8(frame)), nil
}

func decode(buf []byte) (page Page, seq, b3 uint8, payload []byte, n int, err error) {
	if len(buf) < 2 {
		return
	}
	page = Page(buf[0])
	if !page.Valid() {
		err = &hwerr.ProtocolError{Reason: fmt.Sprintf("unknown frame type 0x%02x", buf[0])}
		return
	}
	total := overhead + int(buf[1])
	if len(buf) < total {
		return
	}
	frame := buf[:total]
	if crc := CRC8(frame[:total-1]); crc != frame[total-1] {
		err = &hwerr.ProtocolError{Reason: fmt.Sprintf("crc8 %02x != %02x", frame[total-1], crc)}
		return
	}
	payload = append([]byte(nil), frame[headerLen:total-1]...)
	return page, frame[2], frame[3], payload, total, nil
}

func (RawCodec) EncodeRequest(req Request) ([]byte, error) {
	return encode(req.Page, req.Seq, req.Cmd, req.Payload)
}

func (RawCodec) DecodeResponse(buf []byte) (Response, int, error) {
	page, seq, status, payload, n, err := decode(buf)
	if err != nil || n == 0 {
		return Response{}, n, err
	}
	return Response{Page: page, Seq: seq, Status: status, Payload: payload}, n, nil
}

func (RawCodec) EncodeResponse(resp Response) ([]byte, error) {
	return encode(resp.Page, resp.Seq, resp.Status, resp.Payload)
}

func (RawCodec) DecodeRequest(buf []byte) (Request, int, error) {
	page, seq, cmd, payload, n, err := decode(buf)
	if err != nil || n == 0 {
		return Request{}, n, err
	}
	return Request{Page: page, Seq: seq, Cmd: cmd, Payload: payload}, n, nil
}
