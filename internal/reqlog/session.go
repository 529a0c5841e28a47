package reqlog

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/G1D0/reqlog/internal/observe"
)

// session is the logging state of one request/response pair. It is owned by
// the request goroutine until end hands the finished resource to the pool.
type session struct {
	svc       *Service
	id        string
	startedAt time.Time
	request   RequestRecord
	body      *BodyRecorder
	ic        *Interceptor

	// announced is closed once the announce call is over. nil when the
	// adapter does not announce.
	announced chan struct{}
	reported  atomic.Bool
}

func (s *Service) begin(w http.ResponseWriter, r *http.Request) *session {
	sess := &session{
		svc:       s,
		id:        observe.TraceIDFromRequest(r),
		startedAt: time.Now(),
		request:   Snapshot(r),
		body:      RecordBody(r, s.maxBody),
		ic:        NewInterceptor(w, s.strategy, s.maxBody),
	}
	s.metrics.SessionStarted()

	if s.announcer != nil {
		sess.announced = make(chan struct{})
		res := sess.resource(nil)
		err := s.pool.Submit(callAnnounce, func(ctx context.Context) error {
			defer close(sess.announced)
			return sess.call(ctx, callAnnounce, func(ctx context.Context) error {
				return s.announcer.Announce(ctx, res)
			})
		})
		if err != nil {
			close(sess.announced)
		}
	}
	return sess
}

// end runs deferred after the handler. A panic fails the session and is
// re-raised so the server's own recovery still sees it.
func (sess *session) end() {
	if v := recover(); v != nil {
		sess.complete(sess.ic.Fail(&PanicError{Value: v}))
		panic(v)
	}
	sess.complete(sess.ic.Finish())
}

// complete schedules the adapter call for the first completion only. The call
// is never dropped; a full queue only moves it off the workers.
func (sess *session) complete(c Completion) {
	if !sess.reported.CompareAndSwap(false, true) {
		return
	}
	s := sess.svc

	elapsed := time.Since(sess.startedAt)
	if sess.body.Fill(&sess.request) {
		s.metrics.BodyParseFallback()
	}
	resp := s.responseRecord(c)

	outcome := "completed"
	if c.Err != nil {
		outcome = "failed"
	}
	s.metrics.SessionFinished(sess.request.Method, outcome, resp.StatusCode, elapsed)

	res := sess.resource(&resp)
	res.Duration = elapsed

	s.pool.Go(callCreate, func(ctx context.Context) error {
		if sess.announced != nil {
			select {
			case <-sess.announced:
			case <-ctx.Done():
				return &AdapterError{Call: callCreate, SessionID: sess.id, Err: ctx.Err()}
			}
		}
		return sess.call(ctx, callCreate, func(ctx context.Context) error {
			return s.adapter.Create(ctx, res)
		})
	})
}

func (sess *session) resource(resp *ResponseRecord) Resource {
	return Resource{
		ID:        sess.id,
		StartedAt: sess.startedAt,
		Request:   sess.request,
		Response:  resp,
	}
}

// call runs one adapter call, turning errors and panics into *AdapterError.
func (sess *session) call(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
		if err != nil {
			err = &AdapterError{Call: name, SessionID: sess.id, Err: err}
		}
	}()
	return fn(observe.WithTraceID(ctx, sess.id))
}
