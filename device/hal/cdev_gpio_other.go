//go:build !linux

package hal

import (
	"context"
)

type CdevGpio struct{}

func NewCdevGpio(chip string) *CdevGpio { return &CdevGpio{} }

func (my *CdevGpio) SetLevel(ctx context.Context, pin uint8, level bool) error {
	return ErrUnsupported
}

func (my *CdevGpio) Level(ctx context.Context, pin uint8) (bool, error) {
	return false, ErrUnsupported
}

func (my *CdevGpio) Close() error { return nil }
