package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// defaultTimeout bounds attempts whose request carries no timeout.
const defaultTimeout = 30 * time.Second

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Result captures the upstream response of a single attempt.
type Result struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the upstream answered with a 2xx status.
func (r Result) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// Dispatcher performs single-attempt upstream calls. It never retries and
// never follows per-provider schedules; callers own sequencing.
type Dispatcher struct {
	client *http.Client
	now    func() time.Time
}

// NewDispatcher returns a Dispatcher with default transport settings.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{},
		now:    time.Now,
	}
}

// Do performs the call. A Result is returned even on transport failure so
// callers can record the elapsed time; err is non-nil only when no usable
// response arrived. Non-2xx responses are not errors.
func (d *Dispatcher) Do(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := d.now()
	elapsed := func() time.Duration { return d.now().Sub(start) }

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader(req.Body)
	}

	httpReq, errBuild := http.NewRequestWithContext(ctx, method, req.URL, body)
	if errBuild != nil {
		return Result{Duration: elapsed()}, fmt.Errorf("dispatch: build request: %w", errBuild)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, errDo := d.client.Do(httpReq)
	if errDo != nil {
		return Result{Duration: elapsed()}, fmt.Errorf("dispatch: do request: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("dispatch: close response body")
		}
	}()

	data, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Headers:    resp.Header.Clone(),
			Duration:   elapsed(),
		}, fmt.Errorf("dispatch: read response body: %w", errRead)
	}

	return Result{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Body:       data,
		Duration:   elapsed(),
	}, nil
}
