package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"asic_miner/config"
	"asic_miner/device/board"
	"asic_miner/log"
	"asic_miner/pool"
	"asic_miner/pool/stratum"
	"asic_miner/scheduler"
	"asic_miner/util"
)

var (
	poolURLs   []string
	poolUser   string
	poolPass   string
	boardSpecs []string
	chipFamily string
	chainLen   int
	freqMHz    float64
	coreVolt   float64
	staleGrace time.Duration
	diffFloor  float64

	simBoards   int
	simDiff     float64
	simInterval time.Duration
	statsEvery  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Mine with the configured boards and pools",
	Long: `Brings up every board, connects to the first reachable pool and mines
until interrupted. Pools are tried in the order given. Without --board the
attached boards are discovered over USB.

Flags override MINER_* environment variables.`,
	RunE: runMiner,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringArrayVarP(&poolURLs, "pool", "p", nil, "pool URL stratum+tcp://host:port[#xnsub], repeat for failover")
	f.StringVarP(&poolUser, "user", "u", "", "pool worker name")
	f.StringVar(&poolPass, "pass", "x", "pool password")
	f.StringArrayVarP(&boardSpecs, "board", "b", nil, "board as data[,control] serial device, repeatable")
	f.StringVar(&chipFamily, "family", "", "chip family (BM1366, BM1368, BM1370)")
	f.IntVar(&chainLen, "chips", 0, "chips per board")
	f.Float64Var(&freqMHz, "freq", 0, "chip frequency in MHz")
	f.Float64Var(&coreVolt, "voltage", 0, "core voltage in volts")
	f.DurationVar(&staleGrace, "stale-grace", 0, "accept shares for a superseded job this long")
	f.Float64Var(&diffFloor, "diff-floor", 0, "difficulty suggested to the pool")

	f.IntVar(&simBoards, "simulate", 0, "run N simulated boards")
	f.Float64Var(&simDiff, "sim-diff", 1.0/1024, "local pool share difficulty when simulating")
	f.DurationVar(&simInterval, "sim-interval", 30*time.Second, "local pool block interval")
	f.DurationVar(&statsEvery, "stats", time.Minute, "stats log interval, 0 disables")
	addUSBFlags(runCmd)
}

// parseBoardSpec reads "data[,control]".
func parseBoardSpec(id, spec string) (config.BoardConfig, error) {
	bc := config.DefaultBoard(id)
	parts := strings.Split(spec, ",")
	if len(parts) > 2 || strings.TrimSpace(parts[0]) == "" {
		return bc, fmt.Errorf("board %q: want data[,control]: %w", spec, config.ErrBadBoard)
	}
	bc.DataPath = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		bc.ControlPath = strings.TrimSpace(parts[1])
	}
	return bc, nil
}

func boardsFromFlags() ([]config.BoardConfig, error) {
	var boards []config.BoardConfig
	switch {
	case simBoards > 0:
		for i := 0; i < simBoards; i++ {
			bc := config.DefaultBoard(fmt.Sprintf("sim%d", i))
			bc.Simulated = true
			boards = append(boards, bc)
		}
	case len(boardSpecs) > 0:
		for i, spec := range boardSpecs {
			bc, err := parseBoardSpec(fmt.Sprintf("hb%d", i), spec)
			if err != nil {
				return nil, err
			}
			boards = append(boards, bc)
		}
	default:
		sys, err := inventory()
		if err != nil {
			return nil, err
		}
		for _, hb := range sys.Usable() {
			bc := config.DefaultBoard(hb.BoardName)
			bc.DataPath, bc.DataBaud = hb.Data.Path, hb.Data.Baud
			bc.ControlPath, bc.ControlBaud = hb.Control.Path, hb.Control.Baud
			boards = append(boards, bc)
		}
	}
	return boards, nil
}

// buildConfig layers defaults, environment and flags.
func buildConfig(cmd *cobra.Command) (config.MinerConfig, error) {
	cfg := config.Default()
	cfg.Log = minerCfg.Log

	boards, err := boardsFromFlags()
	if err != nil {
		return cfg, err
	}
	cfg.Boards = boards
	if err := config.LoadEnv(&cfg); err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("pool") {
		cfg.Pools = cfg.Pools[:0]
		for _, u := range poolURLs {
			cfg.Pools = append(cfg.Pools, config.PoolEntryConfig{URL: u, Pass: poolPass})
		}
	}
	for i := range cfg.Pools {
		if f.Changed("user") {
			cfg.Pools[i].User = poolUser
		}
		if f.Changed("pass") || cfg.Pools[i].Pass == "" {
			cfg.Pools[i].Pass = poolPass
		}
	}
	for i := range cfg.Boards {
		bc := &cfg.Boards[i]
		if f.Changed("family") {
			bc.ChipFamily = strings.ToUpper(chipFamily)
		}
		if f.Changed("chips") {
			bc.ChainLength = chainLen
		}
		if f.Changed("freq") {
			bc.FrequencyMHz = freqMHz
		}
		if f.Changed("voltage") {
			bc.CoreVoltage = coreVolt
		}
	}
	if f.Changed("stale-grace") {
		cfg.Scheduler.StaleGrace = staleGrace
	}
	if f.Changed("diff-floor") {
		cfg.DifficultyFloor = diffFloor
	}
	if len(cfg.Pools) == 0 && simBoards == 0 {
		return cfg, fmt.Errorf("no pool configured, use --pool or MINER_POOLS: %w", config.ErrBadPool)
	}
	return cfg, cfg.Validate()
}

func newPools(cfg config.MinerConfig) (*pool.Manager, error) {
	mgr := pool.NewManager()
	if len(cfg.Pools) == 0 {
		local := config.PoolEntryConfig{URL: "local://sim", User: "sim"}
		_, err := mgr.AddPool(local, pool.NewLocal("sim", simDiff, simInterval))
		return mgr, err
	}
	for i, pc := range cfg.Pools {
		if _, err := mgr.AddPool(pc, stratum.NewClient(pc, i, cfg.DifficultyFloor)); err != nil {
			mgr.Close()
			return nil, err
		}
	}
	return mgr, nil
}

func boardFactory(bc config.BoardConfig, tc config.ThermalConfig) (scheduler.Factory, error) {
	cfg, err := board.FromConfig(bc, tc)
	if err != nil {
		return nil, err
	}
	if bc.Simulated {
		return func(ctx context.Context) (scheduler.Board, error) {
			b, _, err := board.Simulated(ctx, cfg, simDiff)
			if err != nil {
				return nil, err
			}
			return b, nil
		}, nil
	}
	return func(ctx context.Context) (scheduler.Board, error) {
		b, err := board.Initialize(ctx, cfg, board.Deps{Tacho: board.OpenTacho})
		if err != nil {
			return nil, err
		}
		return b, nil
	}, nil
}

func runMiner(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	mgr, err := newPools(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	sched := scheduler.New(cfg.Scheduler, mgr)
	for _, bc := range cfg.Boards {
		f, err := boardFactory(bc, cfg.Thermal)
		if err != nil {
			return err
		}
		if err := sched.AddBoard(bc.ID, f); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("miner starting with %d boards and %d pools", len(cfg.Boards), mgr.Len())
	if statsEvery > 0 {
		go logStats(ctx, sched, statsEvery)
	}
	return sched.Run(ctx)
}

func logStats(ctx context.Context, sched *scheduler.Scheduler, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		st := sched.Stats()
		log.Infof("up %s, shares accepted %d rejected %d stale %d lost %d dup %d, hw errors %d, jobs %d",
			util.UptimeInString(), st.Accepted, st.Rejected, st.Stale, st.Lost, st.Duplicate, st.HwErrors, st.Jobs)
		for _, id := range sched.Boards() {
			d, err := sched.Diagnostics(id)
			if err != nil {
				continue
			}
			log.Infof("board %s %s: %.1fC fan %.0f%% %.0frpm %.2fW %.0fMHz %.2fGH/s",
				id, st.Boards[id], d.TempC, d.FanPct, d.FanRPM, d.PowerW, d.FrequencyMHz, d.HashRate/1e9)
		}
	}
}
