// Package board composes transport, control, sensors and the chip chain of
// one hash board behind a small mining and diagnostics API.
package board

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"asic_miner/config"
	"asic_miner/device/bm13xx"
	"asic_miner/device/chip"
	"asic_miner/device/control"
	"asic_miner/device/hal"
	"asic_miner/device/hwerr"
	"asic_miner/device/sensor"
	"asic_miner/device/thermal"
	"asic_miner/device/transport"
	"asic_miner/job"
	"asic_miner/log"
)

type Config struct {
	ID      string
	Data    transport.Descriptor
	Control transport.Descriptor

	Family           bm13xx.Family
	ChainLength      int
	FrequencyMHz     float64
	RampStepMHz      float64
	RampDelay        time.Duration
	VersionMask      uint32
	TicketDifficulty float64
	EnumWindow       time.Duration

	ResetPin       uint8
	ResetHold      time.Duration
	CoreVoltage    float64
	CoreADCChannel uint8
	ControlTimeout time.Duration

	Native  config.NativeConfig
	Thermal thermal.Config
}

// FromConfig resolves the family and copies the board and thermal settings.
func FromConfig(bc config.BoardConfig, tc config.ThermalConfig) (Config, error) {
	fam, ok := bm13xx.LookupFamily(bc.ChipFamily)
	if !ok {
		return Config{}, hwerr.Invalid("chip family", bc.ChipFamily, "unknown")
	}
	return Config{
		ID:               bc.ID,
		Data:             transport.Descriptor{Path: bc.DataPath, Baud: bc.DataBaud},
		Control:          transport.Descriptor{Path: bc.ControlPath, Baud: bc.ControlBaud},
		Family:           fam,
		ChainLength:      bc.ChainLength,
		FrequencyMHz:     bc.FrequencyMHz,
		RampStepMHz:      bc.RampStepMHz,
		RampDelay:        bc.RampDelay,
		VersionMask:      bc.VersionMask,
		TicketDifficulty: bc.TicketDifficulty,
		ResetPin:         bc.ResetPin,
		ResetHold:        bc.ResetHold,
		CoreVoltage:      bc.CoreVoltage,
		CoreADCChannel:   bc.CoreADCChannel,
		ControlTimeout:   bc.ControlTimeout,
		Native:           bc.Native,
		Thermal: thermal.Config{
			TargetC:   tc.TargetC,
			MaxC:      tc.MaxC,
			Debounce:  tc.Debounce,
			FanMinPct: tc.FanMinPct,
			FanMaxPct: tc.FanMaxPct,
			Kp:        tc.Kp,
			Ki:        tc.Ki,
		},
	}, nil
}

// NativeOpener builds a HAL on host buses. The returned func releases it.
type NativeOpener func(cfg config.NativeConfig, resetPin uint8) (hal.Set, func() error, error)

type Deps struct {
	Open   transport.Opener
	Native NativeOpener
	// Tacho opens a fan tachometer; nil disables it.
	Tacho func(chip string, line int) (*sensor.Tacho, error)
	Now   func() time.Time
}

func (my *Deps) defaults() {
	if my.Open == nil {
		my.Open = transport.OpenSerial
	}
	if my.Native == nil {
		my.Native = OpenNative
	}
	if my.Now == nil {
		my.Now = time.Now
	}
}

// ChipProtocol is what the board needs from a chip chain. *bm13xx.Chain
// implements it.
type ChipProtocol interface {
	EnumerateChips(ctx context.Context) ([]uint8, error)
	Addresses() []uint8
	SetFrequency(ctx context.Context, t bm13xx.Target, mhz float64) error
	FrequencyMHz() float64
	SetTicketDifficulty(ctx context.Context, diff float64) error
	SetVersionMask(ctx context.Context, mask uint32) error
	SendJob(ctx context.Context, t bm13xx.Target, j *job.Job) error
	PollNonces(ctx context.Context) ([]job.Nonce, error)
	Stats() bm13xx.Stats
}

var _ ChipProtocol = (*bm13xx.Chain)(nil)

type Diagnostics struct {
	BoardID      string
	Online       bool
	TempC        float64
	FanPct       float64
	FanRPM       float64
	VinV         float64
	VoutV        float64
	IoutA        float64
	PowerW       float64
	CoreMV       uint16
	FrequencyMHz float64
	HashRate     float64
	Chips        []chip.Chip
	Chain        bm13xx.Stats
	Thermal      thermal.State
	ReadAt       time.Time
}

type Board struct {
	cfg  Config
	deps Deps
	log  *log.Logger

	dual  *transport.Dual
	ctl   *control.Channel
	hal   hal.Set
	chain ChipProtocol
	chips *chip.Set
	emc   *sensor.EMC2101
	tps   *sensor.TPS546
	tacho *sensor.Tacho

	thermal *thermal.Controller
	window  *job.MovingWindow
	fanPct  atomic.Uint64

	release []func() error

	mineMx    sync.Mutex
	diagMx    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (my *Board) ID() string { return my.cfg.ID }

func (my *Board) Config() Config { return my.cfg }

func (my *Board) Chain() ChipProtocol { return my.chain }

// Control is nil for single channel boards.
func (my *Board) Control() *control.Channel { return my.ctl }

func (my *Board) push(fn func() error) {
	my.release = append(my.release, fn)
}

func (my *Board) unwind() error {
	var first error
	for i := len(my.release) - 1; i >= 0; i-- {
		if err := my.release[i](); err != nil && first == nil {
			first = err
		}
	}
	my.release = nil
	return first
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
