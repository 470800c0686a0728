package board

import (
	"context"
	"os"

	"asic_miner/device/bm13xx"
	"asic_miner/device/control"
	"asic_miner/device/hwerr"
	"asic_miner/device/sensor"
	"asic_miner/device/transport"
)

const (
	simTempC = 48
	simRPM   = 2400
)

// Sim is the in-process hardware behind a simulated board.
type Sim struct {
	Control *control.Simulator
	Data    *bm13xx.Simulator

	ctlPath  string
	dataPath string
}

// NewSim builds a chip chain of cfg.ChainLength chips and a control board
// with the usual sensors. mineDifficulty > 0 makes the chips answer every
// job with real nonces.
func NewSim(cfg Config, mineDifficulty float64) *Sim {
	s := &Sim{
		Control: control.NewSimulator(cfg.ID + "-ctl"),
		Data: bm13xx.NewSimulator(cfg.ID+"-data", bm13xx.SimConfig{
			Chips:          cfg.ChainLength,
			Family:         cfg.Family,
			MineDifficulty: mineDifficulty,
		}),
		ctlPath:  "sim:" + cfg.ID + ":ctl",
		dataPath: "sim:" + cfg.ID + ":data",
	}
	sensor.SimulateEMC2101(s.Control, sensor.EMC2101Addr, simTempC, simRPM)
	sensor.SimulateTPS546(s.Control, sensor.TPS546Addr, 5, cfg.CoreVoltage, 3)
	s.Control.SetADC(cfg.CoreADCChannel, uint16(cfg.CoreVoltage*1000))
	return s
}

func (my *Sim) Open(d transport.Descriptor) (transport.Port, error) {
	switch d.Path {
	case my.ctlPath:
		return my.Control, nil
	case my.dataPath:
		return my.Data, nil
	}
	return nil, &hwerr.IoError{Op: "open", Path: d.Path, Err: os.ErrNotExist}
}

// Apply points cfg at the simulated ports.
func (my *Sim) Apply(cfg Config) Config {
	cfg.Control = transport.Descriptor{Path: my.ctlPath}
	cfg.Data = transport.Descriptor{Path: my.dataPath}
	return cfg
}

// Simulated initializes a board against fresh simulators.
func Simulated(ctx context.Context, cfg Config, mineDifficulty float64) (*Board, *Sim, error) {
	if cfg.ChainLength < 1 {
		cfg.ChainLength = 1
	}
	if cfg.CoreVoltage <= 0 {
		cfg.CoreVoltage = 1.2
	}
	s := NewSim(cfg, mineDifficulty)
	b, err := Initialize(ctx, s.Apply(cfg), Deps{Open: s.Open})
	if err != nil {
		s.Control.Close()
		s.Data.Close()
		return nil, nil, err
	}
	return b, s, nil
}
