package control

import (
	"context"
	"encoding/binary"
	"fmt"

	"asic_miner/device/hwerr"
)

func (my *Channel) SetGPIO(ctx context.Context, pin uint8, level bool) error {
	v := uint8(0)
	if level {
		v = 1
	}
	_, err := my.Do(ctx, Request{Page: PageGPIO, Cmd: CmdGPIOSet, Payload: []byte{pin, v}})
	return err
}

func (my *Channel) GetGPIO(ctx context.Context, pin uint8) (bool, error) {
	resp, err := my.Do(ctx, Request{Page: PageGPIO, Cmd: CmdGPIOGet, Payload: []byte{pin}})
	if err != nil {
		return false, err
	}
	if len(resp.Payload) != 1 {
		return false, &hwerr.ProtocolError{Reason: fmt.Sprintf("gpio read returned %d bytes", len(resp.Payload))}
	}
	return resp.Payload[0] != 0, nil
}

// ReadADC returns the channel reading in millivolts.
func (my *Channel) ReadADC(ctx context.Context, channel uint8) (uint16, error) {
	resp, err := my.Do(ctx, Request{Page: PageADC, Cmd: CmdADCRead, Payload: []byte{channel}})
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) != 2 {
		return 0, &hwerr.ProtocolError{Reason: fmt.Sprintf("adc read returned %d bytes", len(resp.Payload))}
	}
	return binary.LittleEndian.Uint16(resp.Payload), nil
}

// I2CTransfer writes w to the 7-bit address then reads readLen bytes.
// Payload: addr | readLen | w...
func (my *Channel) I2CTransfer(ctx context.Context, addr uint8, w []byte, readLen int) ([]byte, error) {
	if addr > 0x7f {
		return nil, hwerr.Invalid("i2c address", addr, "not 7-bit")
	}
	if readLen < 0 || readLen > MaxPayload {
		return nil, hwerr.Invalid("i2c read length", readLen, "out of range")
	}
	if len(w)+2 > MaxPayload {
		return nil, hwerr.Invalid("i2c write length", len(w), "exceeds frame")
	}
	payload := make([]byte, 0, len(w)+2)
	payload = append(payload, addr, uint8(readLen))
	payload = append(payload, w...)

	resp, err := my.Do(ctx, Request{Page: PageI2C, Cmd: CmdI2CTransfer, Payload: payload})
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) != readLen {
		return nil, &hwerr.ProtocolError{Reason: fmt.Sprintf("i2c read returned %d of %d bytes", len(resp.Payload), readLen)}
	}
	return resp.Payload, nil
}

func (my *Channel) I2CWrite(ctx context.Context, addr uint8, w []byte) error {
	_, err := my.I2CTransfer(ctx, addr, w, 0)
	return err
}
