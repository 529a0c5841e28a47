package reqlog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/felixge/httpsnoop"
)

// Strategy selects when the status and headers of a response are read.
type Strategy int

const (
	// StrategyHeaderSend snapshots status and headers when the response is
	// committed (first WriteHeader, Write, ReadFrom or Flush). That is the
	// header set net/http freezes and sends; later changes to the map are
	// not part of the real response.
	StrategyHeaderSend Strategy = iota

	// StrategyEndHook reads status and headers from the live response when
	// the handler returns.
	StrategyEndHook
)

func (s Strategy) String() string {
	switch s {
	case StrategyHeaderSend:
		return "header-send"
	case StrategyEndHook:
		return "end"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses "header-send" or "end".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "header-send", "headersend":
		return StrategyHeaderSend, nil
	case "end", "end-hook", "endhook":
		return StrategyEndHook, nil
	default:
		return 0, fmt.Errorf("unknown capture strategy %q", s)
	}
}

// Completion is the single resolution of an Interceptor.
type Completion struct {
	// StatusCode is 0 when the response failed before anything was committed.
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
	Hijacked   bool
	// Err is the failure passed to Fail, or else the first write error.
	Err error
}

// Interceptor observes the output of an http.ResponseWriter. Every call made
// through Writer reaches the underlying writer unchanged and in order; the
// interceptor only records what passed through.
type Interceptor struct {
	w        http.ResponseWriter
	wrapped  http.ResponseWriter
	strategy Strategy
	maxBody  int

	mu        sync.Mutex
	status    int
	committed bool
	header    http.Header
	body      bytes.Buffer
	truncated bool
	hijacked  bool
	writeErr  error
	resolved  bool
	result    Completion
	done      chan struct{}
}

// NewInterceptor wraps w. At most maxBody bytes of the body are kept; a
// negative maxBody keeps none.
func NewInterceptor(w http.ResponseWriter, strategy Strategy, maxBody int) *Interceptor {
	ic := &Interceptor{
		w:        w,
		strategy: strategy,
		maxBody:  maxBody,
		done:     make(chan struct{}),
	}

	ic.wrapped = httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				ic.commit(code)
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				ic.commit(http.StatusOK)
				n, err := next(b)
				if n > 0 {
					ic.capture(b[:n])
				}
				ic.recordErr(err)
				return n, err
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				ic.commit(http.StatusOK)
				if ic.maxBody >= 0 {
					src = io.TeeReader(src, bodyTap{ic})
				}
				n, err := next(src)
				ic.recordErr(err)
				return n, err
			}
		},
		Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {
				ic.commit(http.StatusOK)
				next()
			}
		},
		Hijack: func(next httpsnoop.HijackFunc) httpsnoop.HijackFunc {
			return func() (net.Conn, *bufio.ReadWriter, error) {
				conn, rw, err := next()
				if err == nil {
					ic.mu.Lock()
					ic.hijacked = true
					ic.mu.Unlock()
				}
				return conn, rw, err
			}
		},
	})

	return ic
}

// Writer returns the writer handlers must use.
func (ic *Interceptor) Writer() http.ResponseWriter {
	return ic.wrapped
}

// Finish resolves the interceptor when the response is complete. Only the
// first call to Finish or Fail resolves; later calls return that result.
func (ic *Interceptor) Finish() Completion {
	return ic.resolve(nil)
}

// Fail resolves the interceptor with whatever was captured so far and err.
func (ic *Interceptor) Fail(err error) Completion {
	return ic.resolve(err)
}

// Done is closed once the interceptor is resolved.
func (ic *Interceptor) Done() <-chan struct{} {
	return ic.done
}

// Result returns the completion and whether it has been resolved.
func (ic *Interceptor) Result() (Completion, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.result, ic.resolved
}

func (ic *Interceptor) commit(code int) {
	// Informational responses may repeat and do not commit, except 101.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		return
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.committed || ic.resolved {
		return
	}
	ic.committed = true
	ic.status = code
	if ic.strategy == StrategyHeaderSend {
		ic.header = ic.w.Header().Clone()
	}
}

func (ic *Interceptor) capture(p []byte) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.resolved || ic.maxBody < 0 {
		return
	}
	room := ic.maxBody - ic.body.Len()
	if len(p) > room {
		p = p[:max(room, 0)]
		ic.truncated = true
	}
	ic.body.Write(p)
}

func (ic *Interceptor) recordErr(err error) {
	if err == nil {
		return
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.writeErr == nil && !ic.resolved {
		ic.writeErr = err
	}
}

func (ic *Interceptor) resolve(failure error) Completion {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.resolved {
		return ic.result
	}
	ic.resolved = true

	c := Completion{
		Truncated: ic.truncated,
		Hijacked:  ic.hijacked,
		Err:       failure,
	}
	if c.Err == nil {
		c.Err = ic.writeErr
	}

	switch {
	case ic.committed:
		c.StatusCode = ic.status
	case failure == nil && !ic.hijacked:
		// net/http sends an implicit 200 when the handler returns silently.
		c.StatusCode = http.StatusOK
	}

	if ic.strategy == StrategyHeaderSend && ic.committed {
		c.Header = ic.header
	} else {
		c.Header = ic.w.Header().Clone()
	}

	if ic.body.Len() > 0 {
		c.Body = bytes.Clone(ic.body.Bytes())
	}

	ic.result = c
	close(ic.done)
	return c
}

// bodyTap feeds bytes streamed through ReadFrom into the capture buffer.
type bodyTap struct{ ic *Interceptor }

func (t bodyTap) Write(p []byte) (int, error) {
	t.ic.capture(p)
	return len(p), nil
}
