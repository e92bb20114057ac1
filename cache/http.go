package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// errNotCaptured marks a response that must reach the client uncached.
var errNotCaptured = errors.New("cache: response not captured")

// Route describes how responses of one endpoint are cached.
type Route struct {
	// Class selects the TTL.
	Class Class

	// Tags returns the invalidation tags for a request. May be nil.
	Tags func(r *http.Request) []string
}

// Handler wraps next so that successful read responses are cached.
//
// Only the status code, Content-Type and body of 2xx responses are captured.
// Every other response, and every non-read request, flows straight through.
// A hit writes the same status, Content-Type and body as the original miss.
func (m *Interposer) Handler(keyer Keyer, route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{Method: r.Method, Class: route.Class}
		if m == nil || m.cache == nil || m.skipRule(req) {
			next.ServeHTTP(w, r)
			return
		}

		key, err := RequestKey(keyer, r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		req.Fingerprint = key
		if route.Tags != nil {
			req.Tags = route.Tags(r)
		}

		var uncaptured *responseRecorder
		payload, err := m.Execute(r.Context(), req, func(ctx context.Context) ([]byte, error) {
			rec := newResponseRecorder()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if !rec.successful() {
				uncaptured = rec
				return nil, errNotCaptured
			}
			return rec.encode(), nil
		})

		if uncaptured != nil {
			uncaptured.replay(w)
			return
		}
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		resp, err := decodeResponse(payload)
		if err != nil {
			// A payload that cannot be decoded is treated as a miss.
			m.report(r.Context(), key, err)
			if err := m.cache.Delete(r.Context(), key); err != nil {
				m.report(r.Context(), key, err)
			}
			next.ServeHTTP(w, r)
			return
		}
		resp.replay(w)
	})
}

// responseRecorder captures a handler's response for caching.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *responseRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) successful() bool {
	s := r.statusCode()
	return s >= 200 && s < 300
}

// replay writes the recorded response to w.
func (r *responseRecorder) replay(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range r.header {
		dst[k] = v
	}
	w.WriteHeader(r.statusCode())
	_, _ = w.Write(r.body.Bytes())
}

// encode serializes the response as "<status> <content-type>\n<body>".
func (r *responseRecorder) encode() []byte {
	var buf bytes.Buffer
	buf.Grow(r.body.Len() + 64)
	buf.WriteString(strconv.Itoa(r.statusCode()))
	buf.WriteByte(' ')
	buf.WriteString(r.header.Get("Content-Type"))
	buf.WriteByte('\n')
	buf.Write(r.body.Bytes())
	return buf.Bytes()
}

func decodeResponse(payload []byte) (*responseRecorder, error) {
	line, body, ok := bytes.Cut(payload, []byte{'\n'})
	if !ok {
		return nil, fmt.Errorf("cache: malformed payload")
	}
	statusText, contentType, _ := bytes.Cut(line, []byte{' '})
	status, err := strconv.Atoi(string(statusText))
	if err != nil {
		return nil, fmt.Errorf("cache: malformed payload status: %w", err)
	}

	rec := newResponseRecorder()
	rec.status = status
	if len(contentType) > 0 {
		rec.header.Set("Content-Type", string(contentType))
	}
	rec.body.Write(body)
	return rec, nil
}
