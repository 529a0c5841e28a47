package reqlog

import (
	"sync/atomic"

	"github.com/G1D0/reqlog/internal/middleware"
)

var shared atomic.Pointer[Service]

// Install creates a Service, makes it the process-wide shared service and
// returns its middleware. Installing again replaces the shared reference;
// middleware returned earlier keeps using its own service.
//
// Prefer New and passing the *Service explicitly; Install exists for code
// that cannot be handed one.
func Install(opts Options) middleware.Middleware {
	svc := New(opts)
	shared.Store(svc)
	return svc.Middleware()
}

// Shared returns the service set by the latest Install, or
// ErrNotInitialized.
func Shared() (*Service, error) {
	if svc := shared.Load(); svc != nil {
		return svc, nil
	}
	return nil, ErrNotInitialized
}

// MustShared is like Shared but panics when nothing is installed.
func MustShared() *Service {
	svc, err := Shared()
	if err != nil {
		panic(err)
	}
	return svc
}
