package board

import (
	"context"
	"fmt"
	"math"
	"time"

	"asic_miner/device/bm13xx"
	"asic_miner/device/chip"
	"asic_miner/device/control"
	"asic_miner/device/hal"
	"asic_miner/device/sensor"
	"asic_miner/device/thermal"
	"asic_miner/device/transport"
	"asic_miner/job"
	"asic_miner/log"
)

const rampStartMHz = 50

// Initialize brings a board up from closed device nodes to enumerated chips
// at the configured frequency. On any failure everything acquired so far is
// released again and no handle stays open.
func Initialize(ctx context.Context, cfg Config, deps Deps) (*Board, error) {
	deps.defaults()
	if cfg.ChainLength <= 0 {
		cfg.ChainLength = 1
	}
	if cfg.TicketDifficulty <= 0 {
		cfg.TicketDifficulty = 256
	}
	b := &Board{
		cfg:     cfg,
		deps:    deps,
		log:     log.With("board", cfg.ID),
		thermal: thermal.NewController(cfg.Thermal),
		window:  job.NewMovingWindow(10 * time.Minute),
	}
	if err := b.bringUp(ctx); err != nil {
		if uerr := b.unwind(); uerr != nil {
			b.log.Warnf("release after failed init: %v", uerr)
		}
		b.closed.Store(true)
		return nil, fmt.Errorf("board %s: %w", cfg.ID, err)
	}
	b.log.Infof("initialized %d x %s at %.1f MHz", len(b.chain.Addresses()), cfg.Family.Name, b.chain.FrequencyMHz())
	return b, nil
}

func (my *Board) bringUp(ctx context.Context) error {
	cfg := &my.cfg

	dual, err := transport.OpenDualWith(my.deps.Open, cfg.Control, cfg.Data)
	if err != nil {
		return err
	}
	my.dual = dual
	my.push(dual.Close)

	if dual.Control != nil {
		my.ctl = control.NewChannel(dual.Control, nil)
		if cfg.ControlTimeout > 0 {
			my.ctl.Timeout = cfg.ControlTimeout
		}
		my.hal = hal.NewControlSet(my.ctl)
	} else {
		set, closeFn, err := my.deps.Native(cfg.Native, cfg.ResetPin)
		if err != nil {
			return err
		}
		my.hal = set
		my.push(closeFn)
	}

	if err := my.reset(ctx); err != nil {
		return err
	}
	my.probeSensors(ctx)

	my.chain = bm13xx.NewChain(dual.Data, bm13xx.Config{
		BoardID:    cfg.ID,
		Family:     cfg.Family,
		Length:     cfg.ChainLength,
		EnumWindow: cfg.EnumWindow,
	})
	addrs, err := my.chain.EnumerateChips(ctx)
	if err != nil {
		return err
	}
	if err := my.chain.SetVersionMask(ctx, cfg.VersionMask); err != nil {
		return err
	}
	if err := my.chain.SetTicketDifficulty(ctx, cfg.TicketDifficulty); err != nil {
		return err
	}
	if err := my.ramp(ctx); err != nil {
		return err
	}
	my.chips = chip.NewSet(cfg.Family.Name, addrs, my.chain.FrequencyMHz())
	return nil
}

// reset holds the chips in reset for ResetHold, then releases them.
// The reset line is active low.
func (my *Board) reset(ctx context.Context) error {
	if my.hal.Gpio == nil {
		my.log.Warnf("no gpio, skipping reset pulse")
		return nil
	}
	if err := my.hal.Gpio.SetLevel(ctx, my.cfg.ResetPin, false); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	if err := sleepCtx(ctx, my.cfg.ResetHold); err != nil {
		return err
	}
	if err := my.hal.Gpio.SetLevel(ctx, my.cfg.ResetPin, true); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	return nil
}

// probeSensors finds the optional peripherals. A board without them still
// mines; it just reports less.
func (my *Board) probeSensors(ctx context.Context) {
	if my.hal.I2c != nil {
		emc := sensor.NewEMC2101(my.hal.I2c, sensor.EMC2101Addr)
		if err := emc.Init(ctx); err != nil {
			my.log.Warnf("no fan controller: %v", err)
		} else {
			my.emc = emc
		}

		tps := sensor.NewTPS546(my.hal.I2c, sensor.TPS546Addr)
		if _, err := tps.Vin(ctx); err != nil {
			my.log.Warnf("no voltage regulator: %v", err)
		} else {
			my.tps = tps
			if my.cfg.CoreVoltage > 0 {
				if err := tps.SetVout(ctx, my.cfg.CoreVoltage); err != nil {
					my.log.Warnf("set core voltage %.3f: %v", my.cfg.CoreVoltage, err)
				}
			}
		}
	}
	if my.deps.Tacho != nil && my.cfg.Native.TachoChip != "" {
		t, err := my.deps.Tacho(my.cfg.Native.TachoChip, my.cfg.Native.TachoLine)
		if err != nil {
			my.log.Warnf("no tachometer: %v", err)
			return
		}
		my.tacho = t
		my.push(t.Close)
	}
}

// ramp walks the PLL up to the target so the supply sees a gradual load.
func (my *Board) ramp(ctx context.Context) error {
	target := my.cfg.FrequencyMHz
	step := my.cfg.RampStepMHz
	if step > 0 {
		for f := math.Max(rampStartMHz, my.cfg.Family.MinMHz); f < target && f <= my.cfg.Family.MaxMHz; f += step {
			if _, ok := bm13xx.SolvePLL(f); !ok {
				continue
			}
			if err := my.chain.SetFrequency(ctx, bm13xx.Broadcast, f); err != nil {
				return err
			}
			if err := sleepCtx(ctx, my.cfg.RampDelay); err != nil {
				return err
			}
		}
	}
	return my.chain.SetFrequency(ctx, bm13xx.Broadcast, target)
}
