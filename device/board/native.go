package board

import (
	"asic_miner/config"
	"asic_miner/device/hal"
	"asic_miner/device/sensor"
)

// OpenNative builds a HAL from host buses for boards without a control
// channel. Every member is optional.
func OpenNative(cfg config.NativeConfig, resetPin uint8) (hal.Set, func() error, error) {
	var (
		set     hal.Set
		closers []func() error
	)
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if cfg.I2CBus != "" {
		bus, err := hal.OpenPeriphI2c(cfg.I2CBus)
		if err != nil {
			return hal.Set{}, nil, err
		}
		set.I2c = bus
		closers = append(closers, bus.Close)
	}

	switch {
	case cfg.GpioChip != "":
		g := hal.NewCdevGpio(cfg.GpioChip)
		set.Gpio = g
		closers = append(closers, g.Close)
	case cfg.SysfsResetGpio >= 0:
		g := hal.NewSysfsGpio(map[uint8]int{resetPin: cfg.SysfsResetGpio})
		set.Gpio = g
		closers = append(closers, g.Close)
	}

	if cfg.IioDir != "" {
		set.Adc = hal.NewIioAdc(cfg.IioDir)
	}
	return set, closeAll, nil
}

// OpenTacho is the default tachometer opener.
func OpenTacho(chip string, line int) (*sensor.Tacho, error) {
	return sensor.OpenTacho(chip, line, 2)
}
