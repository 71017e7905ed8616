package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/rampfire/internal/metrics"
	"github.com/torosent/rampfire/internal/tracing"
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Dispatcher issues timed GET requests through a shared client.
type Dispatcher struct {
	client    *http.Client
	timeout   time.Duration
	now       func() time.Time
	tracer    trace.Tracer
	propagate bool
	attrs     []attribute.KeyValue
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now for measuring request delays.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithTracer wraps every request in a client span. When propagate is set the
// W3C trace context is sent to the target.
func WithTracer(tracer trace.Tracer, propagate bool, attrs ...attribute.KeyValue) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
		d.propagate = propagate
		d.attrs = attrs
	}
}

// NewDispatcher returns a Dispatcher that fails any request taking timeout or
// longer.
func NewDispatcher(client *http.Client, timeout time.Duration, opts ...Option) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Dispatcher{
		client:  client,
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends one GET to url and reports how it went. Every failure,
// including transport errors and timeouts, comes back as a failed Outcome
// carrying the time spent; nothing is returned separately.
func (d *Dispatcher) Dispatch(ctx context.Context, url string) metrics.Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	start := d.now()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var span trace.Span
	if d.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, d.tracer, url, d.attrs...)
	}

	status, err := d.do(ctx, url)
	delay := d.now().Sub(start)
	if delay < 0 {
		delay = 0
	}

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
		err = fmt.Errorf("%w after %s: %v", metrics.ErrTimeout, delay, err)
	case d.timeout > 0 && delay >= d.timeout:
		err = fmt.Errorf("%w: response took %s", metrics.ErrTimeout, delay)
	case err == nil && (status < 200 || status >= 300):
		err = &StatusError{StatusCode: status}
	}

	if span != nil {
		tracing.EndRequestSpan(span, status, err)
	}

	out := metrics.Outcome{OK: err == nil, Delay: delay, Err: err}
	var statusErr *StatusError
	if err == nil || errors.As(err, &statusErr) {
		out.Status = status
	}
	return out
}

// do performs the request and drains the body so the connection returns to
// the idle pool.
func (d *Dispatcher) do(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if d.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, nil
}
