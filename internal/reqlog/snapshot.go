package reqlog

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// Snapshot captures the minimal view of r. The headers are copied, so the
// record stays valid while the handler keeps changing r.Header. The body is
// not touched; see RecordBody.
func Snapshot(r *http.Request) RequestRecord {
	return RequestRecord{
		Method:  r.Method,
		URL:     r.URL.RequestURI(),
		Query:   r.URL.Query(),
		Headers: r.Header.Clone(),
	}
}

// BodyRecorder keeps a copy of the first max bytes of a request body as the
// handler reads it. Bytes the handler never reads are never recorded, so
// nothing is pulled from the client ahead of the handler.
type BodyRecorder struct {
	rc  io.ReadCloser
	max int

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
	err       error
}

// RecordBody replaces r.Body with a BodyRecorder. It returns nil and leaves
// r untouched when maxBody is negative or the request has no body.
func RecordBody(r *http.Request, maxBody int) *BodyRecorder {
	if maxBody < 0 || r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	br := &BodyRecorder{rc: r.Body, max: maxBody}
	r.Body = br
	return br
}

func (b *BodyRecorder) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)

	b.mu.Lock()
	if n > 0 {
		room := b.max - b.buf.Len()
		if n > room {
			b.truncated = true
		} else {
			room = n
		}
		if room > 0 {
			b.buf.Write(p[:room])
		}
	}
	if err != nil && !errors.Is(err, io.EOF) && b.err == nil {
		b.err = err
	}
	b.mu.Unlock()

	return n, err
}

// Close closes the original body.
func (b *BodyRecorder) Close() error {
	return b.rc.Close()
}

// Fill sets the body fields of rec from what has been read so far. A body
// longer than the limit is kept as a raw string prefix and never decoded.
// fellBack reports a JSON-typed body that did not parse.
func (b *BodyRecorder) Fill(rec *RequestRecord) (fellBack bool) {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		rec.Error = b.err.Error()
	}
	rec.Truncated = b.truncated
	if b.buf.Len() == 0 {
		return false
	}

	raw := bytes.Clone(b.buf.Bytes())
	if b.truncated {
		rec.Body = string(raw)
		return false
	}
	rec.Body, fellBack = decodeBody(rec.Headers.Get("Content-Type"), raw)
	return fellBack
}
