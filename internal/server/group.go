package server

import (
	"context"

	"go.uber.org/multierr"
)

// Group starts and stops several listeners together.
type Group []*Listener

// Start starts every listener in order. If one fails, the ones already
// started are stopped again and the combined error is returned.
func (g Group) Start(ctx context.Context) error {
	for i, l := range g {
		if err := l.Start(); err != nil {
			for _, started := range g[:i] {
				err = multierr.Append(err, started.Stop(ctx))
			}
			return err
		}
	}
	return nil
}

// Stop stops every listener, in reverse order, and reports all failures.
func (g Group) Stop(ctx context.Context) error {
	var err error
	for i := len(g) - 1; i >= 0; i-- {
		err = multierr.Append(err, g[i].Stop(ctx))
	}
	return err
}
