package config

import (
	"errors"
	"fmt"
	"time"

	"asic_miner/device/bm13xx"
)

var (
	ErrNoBoard     = errors.New("ErrNoBoard")
	ErrBadBoard    = errors.New("ErrBadBoard")
	ErrBadPool     = errors.New("ErrBadPool")
	ErrTooManyPool = errors.New("ErrTooManyPool")
	ErrBadSched    = errors.New("ErrBadSched")
)

type BoardConfig struct {
	ID          string
	DataPath    string
	ControlPath string
	DataBaud    int
	ControlBaud int

	ChipFamily   string
	ChainLength  int
	FrequencyMHz float64
	VersionMask  uint32

	ResetPin  uint8
	ResetHold time.Duration

	TicketDifficulty float64
	RampStepMHz      float64
	RampDelay        time.Duration
	// CoreVoltage in volts; zero leaves the regulator alone.
	CoreVoltage    float64
	CoreADCChannel uint8
	ControlTimeout time.Duration

	// Native is used when the board has no control channel.
	Native NativeConfig
	// Simulated boards run against in-process chip and control simulators.
	Simulated bool
}

// NativeConfig names host buses for boards wired straight to the host.
type NativeConfig struct {
	I2CBus   string
	GpioChip string
	// SysfsResetGpio is the kernel gpio number of the reset line, -1 for none.
	SysfsResetGpio int
	IioDir         string
	TachoChip      string
	TachoLine      int
}

type SchedulerConfig struct {
	PollInterval   time.Duration
	DiagInterval   time.Duration
	StaleGrace     time.Duration
	JobMaxAge      time.Duration
	DegradeAfter   int
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	SubmitRetries  int
}

type ThermalConfig struct {
	TargetC   float64
	MaxC      float64
	Debounce  time.Duration
	FanMinPct float64
	FanMaxPct float64
	Kp        float64
	Ki        float64
}

type LogConfig struct {
	Level string
	JSON  bool
}

type MinerConfig struct {
	Boards          []BoardConfig
	Pools           []PoolEntryConfig
	DifficultyFloor float64
	Scheduler       SchedulerConfig
	Thermal         ThermalConfig
	Log             LogConfig
}

func DefaultBoard(id string) BoardConfig {
	return BoardConfig{
		ID:           id,
		DataBaud:     115200,
		ControlBaud:  115200,
		ChipFamily:   bm13xx.BM1370.Name,
		ChainLength:  1,
		FrequencyMHz: 525,
		VersionMask:  0x1fffe000,
		ResetPin:     0,
		ResetHold:    100 * time.Millisecond,

		TicketDifficulty: 256,
		RampStepMHz:      25,
		RampDelay:        100 * time.Millisecond,
		CoreADCChannel:   1,
		ControlTimeout:   time.Second,
		Native:           NativeConfig{SysfsResetGpio: -1},
	}
}

func Default() MinerConfig {
	return MinerConfig{
		DifficultyFloor: 512,
		Scheduler: SchedulerConfig{
			PollInterval:   50 * time.Millisecond,
			DiagInterval:   5 * time.Second,
			StaleGrace:     2 * time.Second,
			JobMaxAge:      60 * time.Second,
			DegradeAfter:   3,
			MaxAttempts:    5,
			BackoffInitial: time.Second,
			BackoffMax:     30 * time.Second,
			SubmitRetries:  3,
		},
		Thermal: ThermalConfig{
			TargetC:   74,
			MaxC:      85,
			Debounce:  30 * time.Second,
			FanMinPct: 20,
			FanMaxPct: 100,
			Kp:        5,
			Ki:        0.2,
		},
		Log: LogConfig{Level: "info"},
	}
}

func (my *BoardConfig) Validate() error {
	if !my.Simulated && my.DataPath == "" {
		return fmt.Errorf("board %s: no data device: %w", my.ID, ErrBadBoard)
	}
	if my.ChainLength < 1 {
		return fmt.Errorf("board %s: chain length %d: %w", my.ID, my.ChainLength, ErrBadBoard)
	}
	fam, ok := bm13xx.LookupFamily(my.ChipFamily)
	if !ok {
		return fmt.Errorf("board %s: unknown chip family %q: %w", my.ID, my.ChipFamily, ErrBadBoard)
	}
	if my.FrequencyMHz < fam.MinMHz || my.FrequencyMHz > fam.MaxMHz {
		return fmt.Errorf("board %s: frequency %.1f outside [%.0f, %.0f]: %w",
			my.ID, my.FrequencyMHz, fam.MinMHz, fam.MaxMHz, ErrBadBoard)
	}
	if my.TicketDifficulty < 1 {
		return fmt.Errorf("board %s: ticket difficulty %v: %w", my.ID, my.TicketDifficulty, ErrBadBoard)
	}
	if my.CoreVoltage < 0 || my.CoreVoltage > 1.5 {
		return fmt.Errorf("board %s: core voltage %.3f: %w", my.ID, my.CoreVoltage, ErrBadBoard)
	}
	if my.ResetHold < 0 {
		return fmt.Errorf("board %s: negative reset hold: %w", my.ID, ErrBadBoard)
	}
	return nil
}

func (my *MinerConfig) Validate() error {
	if len(my.Boards) == 0 {
		return ErrNoBoard
	}
	for i := range my.Boards {
		if err := my.Boards[i].Validate(); err != nil {
			return err
		}
	}

	if len(my.Pools) > MAX_POOL_NUMBER {
		return fmt.Errorf("%d pools configured, max %d: %w", len(my.Pools), MAX_POOL_NUMBER, ErrTooManyPool)
	}
	for i := range my.Pools {
		my.Pools[i].Parse()
		if !my.Pools[i].Valid {
			return fmt.Errorf("pool %d %q: %w", i, my.Pools[i].URL, ErrBadPool)
		}
	}

	s := &my.Scheduler
	if s.PollInterval <= 0 || s.DiagInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %w", ErrBadSched)
	}
	if s.StaleGrace < 0 || s.JobMaxAge <= 0 {
		return fmt.Errorf("stale grace %v job max age %v: %w", s.StaleGrace, s.JobMaxAge, ErrBadSched)
	}
	if s.DegradeAfter < 1 || s.MaxAttempts < 1 || s.SubmitRetries < 0 {
		return fmt.Errorf("retry bounds: %w", ErrBadSched)
	}
	return nil
}
