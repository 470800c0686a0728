package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadEnv overlays MINER_* variables onto cfg. Unset variables leave cfg alone.
//
//	MINER_POOLS        comma separated pool URLs, priority order
//	MINER_USER, MINER_PASS
//	MINER_DIFF_FLOOR   suggested minimum difficulty
//	MINER_STALE_GRACE  duration, e.g. 2s
//	MINER_JOB_MAX_AGE  duration
//	MINER_POLL         duration
//	MINER_FREQ         MHz, applied to every board
//	MINER_LOG_LEVEL    debug|info|warn|error
//	MINER_LOG_JSON     bool
func LoadEnv(cfg *MinerConfig) error {
	if v, ok := os.LookupEnv("MINER_POOLS"); ok {
		cfg.Pools = cfg.Pools[:0]
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.Pools = append(cfg.Pools, PoolEntryConfig{URL: u})
			}
		}
	}
	user, hasUser := os.LookupEnv("MINER_USER")
	pass, hasPass := os.LookupEnv("MINER_PASS")
	for i := range cfg.Pools {
		if hasUser {
			cfg.Pools[i].User = user
		}
		if hasPass {
			cfg.Pools[i].Pass = pass
		}
	}

	if err := envFloat("MINER_DIFF_FLOOR", &cfg.DifficultyFloor); err != nil {
		return err
	}
	if err := envDuration("MINER_STALE_GRACE", &cfg.Scheduler.StaleGrace); err != nil {
		return err
	}
	if err := envDuration("MINER_JOB_MAX_AGE", &cfg.Scheduler.JobMaxAge); err != nil {
		return err
	}
	if err := envDuration("MINER_POLL", &cfg.Scheduler.PollInterval); err != nil {
		return err
	}

	var freq float64
	if err := envFloat("MINER_FREQ", &freq); err != nil {
		return err
	}
	if freq > 0 {
		for i := range cfg.Boards {
			cfg.Boards[i].FrequencyMHz = freq
		}
	}

	if v, ok := os.LookupEnv("MINER_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv("MINER_LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MINER_LOG_JSON: %w", err)
		}
		cfg.Log.JSON = b
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}
