// Package stratum is a stratum v1 pool client with version rolling.
package stratum

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"asic_miner/config"
	"asic_miner/job"
	"asic_miner/jsonrpc"
	"asic_miner/log"
	"asic_miner/pool"
	"asic_miner/version"
)

const (
	STATE_INIT = iota
	STATE_CONFIGURE_SENT
	STATE_CONFIGURE_DONE
	STATE_SUBSCRIBE_SENT
	STATE_SUBSCRIBE_DONE
	STATE_XNSUB_SENT
	STATE_XNSUB_DONE
	STATE_AUTHORIZE_SENT
	STATE_GETJOB
	STATE_DISCONNECT
)

const (
	ConfigureTimeout          time.Duration = 5 * time.Second
	RequestTimeout            time.Duration = 10 * time.Second
	DefaultVersionRollingMask uint32        = 0x1fffe000
	DefaultVersionRollingBits uint          = 2
	DefaultDifficulty         float64       = 1
)

var (
	ErrAuthorize = errors.New("ErrAuthorize")
	ErrSubscribe = errors.New("ErrSubscribe")
)

// Stratum implements pool.Client. Notifications only record state; jobs are
// built when NextJob is called so they see the latest difficulty and
// extranonce.
type Stratum struct {
	Cfg             config.PoolEntryConfig
	PoolID          int
	DifficultyFloor float64
	Agent           string

	mx              sync.Mutex
	client          *jsonrpc.Client
	state           atomic.Uint32
	difficulty      float64
	serverMask      uint32
	versionRolling  bool
	subscribeID     string
	extraNonce1     []byte
	extraNonce2Size int
	tmpl            *job.Template
	tmplNew         bool
	last            *job.Job
	refresh         bool
	reconnectAt     time.Time
	signal          chan struct{}
}

func NewClient(cfg config.PoolEntryConfig, poolID int, floor float64) *Stratum {
	cfg.Parse()
	return &Stratum{
		Cfg:             cfg,
		PoolID:          poolID,
		DifficultyFloor: floor,
		Agent:           version.GetVersionConfig().Agent,
		difficulty:      DefaultDifficulty,
		signal:          make(chan struct{}, 1),
	}
}

var _ pool.Client = (*Stratum)(nil)

func (my *Stratum) State() uint32 { return my.state.Load() }

func (my *Stratum) connErr(err error) error {
	return &pool.ConnectionError{Pool: my.Cfg.URL, Err: err}
}

func (my *Stratum) notify() {
	select {
	case my.signal <- struct{}{}:
	default:
	}
}

// Connect dials the pool and runs the handshake. A previous connection is
// dropped first.
func (my *Stratum) Connect(ctx context.Context) error {
	my.mx.Lock()
	old := my.client
	my.client = nil
	wait := time.Until(my.reconnectAt)
	cfg := my.Cfg
	my.mx.Unlock()
	if old != nil {
		old.Stop()
	}
	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	my.state.Store(STATE_INIT)
	log.Infof("dialing %s://%s worker %s", cfg.Proto, cfg.HostNPort, cfg.User)
	c, err := jsonrpc.NewClient(ctx, cfg.NetworkProto, cfg.HostNPort, my.handleMethod)
	if err != nil {
		return my.connErr(err)
	}
	if err := my.handshake(ctx, c); err != nil {
		c.Stop()
		my.state.Store(STATE_DISCONNECT)
		return err
	}
	my.mx.Lock()
	my.client = c
	my.mx.Unlock()
	my.state.Store(STATE_GETJOB)
	return nil
}

func (my *Stratum) handshake(ctx context.Context, c *jsonrpc.Client) error {
	my.state.Store(STATE_CONFIGURE_SENT)
	if err := my.Configure(ctx, c); err != nil {
		return err
	}
	my.state.Store(STATE_SUBSCRIBE_SENT)
	if err := my.Subscribe(ctx, c); err != nil {
		return err
	}
	if my.Cfg.XnSub {
		my.state.Store(STATE_XNSUB_SENT)
		if err := my.XnSub(ctx, c); err != nil {
			return err
		}
	}
	my.state.Store(STATE_AUTHORIZE_SENT)
	if err := my.Authorize(ctx, c); err != nil {
		return err
	}
	if my.DifficultyFloor > 0 {
		if _, err := c.Call("mining.suggest_difficulty", []interface{}{my.DifficultyFloor}); err != nil {
			return my.connErr(err)
		}
	}
	return nil
}

// call waits at most timeout for the reply. A timeout of the sub request is
// reported as context.DeadlineExceeded only if ctx itself is still alive.
func (my *Stratum) call(ctx context.Context, c *jsonrpc.Client, timeout time.Duration, method string, params interface{}) (jsonrpc.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.CallWait(cctx, method, params)
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		return resp, my.connErr(err)
	}
	return resp, err
}

func (my *Stratum) handleMethod(resp jsonrpc.Response) {
	my.mx.Lock()
	defer my.mx.Unlock()

	switch resp.Method {
	case "mining.set_version_mask":
		if len(resp.Params) < 1 {
			return
		}
		if mask, err := parseHex32(resp.Params[0]); err == nil {
			my.serverMask = mask
			my.versionRolling = mask != 0
			log.Debugf("version mask %08x", mask)
		}
	case "mining.set_difficulty":
		if len(resp.Params) < 1 {
			return
		}
		diff, err := ToDiff(resp.Params[0])
		if err != nil || diff <= 0 {
			log.Infof("mining.set_difficulty %v ignored, keeping %g", resp.Params[0], my.difficulty)
			return
		}
		my.difficulty = diff
		log.Infof("mining.set_difficulty: %g", diff)
	case "mining.set_extranonce":
		// {"id": null, "method": "mining.set_extranonce", "params": ["08000002", 4]}
		if len(resp.Params) < 2 {
			return
		}
		my.setExtraNonce(resp.Params[0], resp.Params[1])
	case "mining.notify":
		my.handleNotify(resp.Params)
	case "client.reconnect":
		my.handleReconnect(resp.Params)
	default:
		log.Infof("unknown method %s", resp.Method)
	}
}

func (my *Stratum) Difficulty() float64 {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.difficulty
}

func (my *Stratum) Refresh() {
	my.mx.Lock()
	my.refresh = true
	my.mx.Unlock()
	my.notify()
}

func (my *Stratum) current() *jsonrpc.Client {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.client
}

func (my *Stratum) Close() error {
	my.mx.Lock()
	c := my.client
	my.client = nil
	my.mx.Unlock()
	if c != nil {
		c.Stop()
	}
	my.state.Store(STATE_DISCONNECT)
	return nil
}

func ToDiff(x interface{}) (float64, error) {
	return strconv.ParseFloat(fmt.Sprintf("%v", x), 64)
}

func parseHex32(x interface{}) (uint32, error) {
	s, ok := x.(string)
	if !ok {
		return 0, fmt.Errorf("not a hex string: %v", x)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}
