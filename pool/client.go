// Package pool holds the pool client contract and the priority failover
// between configured pools.
package pool

//go:generate mockgen -source=client.go -destination mock_pool/mock_client.go -package mock_pool

import (
	"context"
	"errors"
	"fmt"

	"asic_miner/job"
)

var (
	ErrConnection     = errors.New("ErrConnection")
	ErrRejected       = errors.New("ErrRejected")
	ErrSubmitTimeout  = errors.New("ErrSubmitTimeout")
	ErrTooManyPool    = errors.New("ErrTooManyPool")
	ErrInvalidPool    = errors.New("ErrInvalidPool")
	ErrPoolNotExist   = errors.New("ErrPoolNotExist")
	ErrNoPool         = errors.New("ErrNoPool")
	ErrNotConnected   = errors.New("ErrNotConnected")
	ErrJobUnavailable = errors.New("ErrJobUnavailable")
)

// ConnectionError means the pool can no longer be talked to. The caller
// fails over; Connect may bring the same client back.
type ConnectionError struct {
	Pool string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("pool %s: %v", e.Pool, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrConnection, e.Err} }

// Verdict is the pool's answer to a submitted share.
type Verdict struct {
	Accepted bool
	Reason   string
}

func (v Verdict) String() string {
	if v.Accepted {
		return "accepted"
	}
	return "rejected: " + v.Reason
}

// IsTransient reports whether a submit failure is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrSubmitTimeout)
}

type Client interface {
	Connect(ctx context.Context) error
	// NextJob blocks for the next job. It returns an ErrConnection error
	// once the pool is lost.
	NextJob(ctx context.Context) (*job.Job, error)
	Submit(ctx context.Context, share *job.Share) (Verdict, error)
	Difficulty() float64
	// Refresh asks for fresh work. A client with nothing new derives a job
	// with the next extranonce2 from its last one.
	Refresh()
	Close() error
}
