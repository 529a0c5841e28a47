package adapters

import (
	"context"
	"errors"

	"github.com/G1D0/reqlog/internal/reqlog"
)

// Multi fans every call out to several adapters. All of them are called
// even when some fail; the failures are joined.
type Multi []reqlog.Adapter

// NewMulti combines adapters.
func NewMulti(adapters ...reqlog.Adapter) Multi {
	return Multi(adapters)
}

// Create implements reqlog.Adapter.
func (m Multi) Create(ctx context.Context, res reqlog.Resource) error {
	var errs []error
	for _, a := range m {
		if err := a.Create(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Announce forwards to the adapters that implement reqlog.RequestAnnouncer.
func (m Multi) Announce(ctx context.Context, res reqlog.Resource) error {
	var errs []error
	for _, a := range m {
		ann, ok := a.(reqlog.RequestAnnouncer)
		if !ok {
			continue
		}
		if err := ann.Announce(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
