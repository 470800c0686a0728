package board

import (
	"context"
	"errors"
	"fmt"

	"asic_miner/device/bm13xx"
	"asic_miner/device/hwerr"
	"asic_miner/device/thermal"
	"asic_miner/job"
)

// SendWork hands j to every chip on the chain.
func (my *Board) SendWork(ctx context.Context, j *job.Job) error {
	if my.closed.Load() {
		return hwerr.ErrClosed
	}
	my.mineMx.Lock()
	defer my.mineMx.Unlock()
	return my.chain.SendJob(ctx, bm13xx.Broadcast, j)
}

// PollNonces drains the chain. Every result counts toward the hashrate at
// the ticket difficulty.
func (my *Board) PollNonces(ctx context.Context) ([]job.Nonce, error) {
	if my.closed.Load() {
		return nil, hwerr.ErrClosed
	}
	my.mineMx.Lock()
	defer my.mineMx.Unlock()

	nonces, err := my.chain.PollNonces(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nonces {
		my.window.Add(my.cfg.TicketDifficulty)
		my.chips.Record(n, my.cfg.TicketDifficulty)
	}
	return nonces, nil
}

// ReadDiagnostics reads the peripherals over the control path. It never
// takes the mining lock. On a failed read the partial snapshot is returned
// along with the error.
func (my *Board) ReadDiagnostics(ctx context.Context) (Diagnostics, error) {
	d := Diagnostics{BoardID: my.cfg.ID, ReadAt: my.deps.Now()}
	if my.closed.Load() {
		return d, hwerr.ErrClosed
	}
	my.diagMx.Lock()
	defer my.diagMx.Unlock()

	d.Online = true
	d.FrequencyMHz = my.chain.FrequencyMHz()
	d.HashRate = my.window.HashRate()
	d.Chips = my.chips.Snapshot()
	d.Chain = my.chain.Stats()
	d.Thermal = my.thermal.State()
	d.FanPct = float64(my.fanPct.Load()) / 100

	var err error
	if my.emc != nil {
		if d.TempC, err = my.emc.ExternalTemp(ctx); err != nil {
			return d, fmt.Errorf("temperature: %w", err)
		}
		if d.FanRPM, err = my.emc.FanRPM(ctx); err != nil {
			return d, fmt.Errorf("fan: %w", err)
		}
	}
	if my.tacho != nil {
		d.FanRPM = my.tacho.RPM()
	}
	if my.tps != nil {
		if d.VinV, err = my.tps.Vin(ctx); err != nil {
			return d, fmt.Errorf("vin: %w", err)
		}
		if d.VoutV, err = my.tps.Vout(ctx); err != nil {
			return d, fmt.Errorf("vout: %w", err)
		}
		if d.IoutA, err = my.tps.Iout(ctx); err != nil {
			return d, fmt.Errorf("iout: %w", err)
		}
		d.PowerW = d.VoutV * d.IoutA
	}
	if my.hal.Adc != nil {
		if d.CoreMV, err = my.hal.Adc.ReadMillivolts(ctx, my.cfg.CoreADCChannel); err != nil {
			return d, fmt.Errorf("core voltage: %w", err)
		}
	}
	return d, nil
}

// RegulateThermal feeds one diagnostics snapshot to the fan loop and writes
// the new duty. It returns ErrOverheat once the over-temperature alarm has
// held for the debounce period.
func (my *Board) RegulateThermal(ctx context.Context, d Diagnostics) (thermal.Decision, error) {
	if my.closed.Load() {
		return thermal.Decision{}, hwerr.ErrClosed
	}
	my.diagMx.Lock()
	defer my.diagMx.Unlock()

	if my.emc == nil {
		return thermal.Decision{State: my.thermal.State()}, nil
	}
	now := d.ReadAt
	if now.IsZero() {
		now = my.deps.Now()
	}
	dec, ok := my.thermal.Update(d.TempC, now)
	if !ok {
		my.log.Debugf("ignored temperature reading %.1f", d.TempC)
		return dec, nil
	}
	if dec.Changed {
		my.log.Infof("thermal state %v at %.1fC", dec.State, dec.TempC)
	}
	if err := my.emc.SetFanDuty(ctx, dec.FanPct); err != nil {
		return dec, fmt.Errorf("fan duty: %w", err)
	}
	my.fanPct.Store(uint64(dec.FanPct * 100))

	switch dec.Alarm {
	case thermal.AlarmTriggered, thermal.AlarmActive:
		my.log.Errorf("over temperature %.1fC above %.1fC", dec.TempC, my.cfg.Thermal.MaxC)
		return dec, fmt.Errorf("board %s at %.1fC: %w", my.cfg.ID, dec.TempC, hwerr.ErrOverheat)
	}
	return dec, nil
}

// Close holds the chips in reset and releases every handle. Later calls
// return ErrClosed.
func (my *Board) Close() error {
	err := hwerr.ErrClosed
	my.closeOnce.Do(func() {
		my.closed.Store(true)
		my.mineMx.Lock()
		my.diagMx.Lock()
		defer my.mineMx.Unlock()
		defer my.diagMx.Unlock()

		var resetErr error
		if my.hal.Gpio != nil {
			resetErr = my.hal.Gpio.SetLevel(context.Background(), my.cfg.ResetPin, false)
		}
		my.closeErr = errors.Join(resetErr, my.unwind())
		my.log.Infof("closed")
		err = my.closeErr
	})
	return err
}
