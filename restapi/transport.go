package restapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/identiko/userbridge/internal/config"
)

// failure classes for transport errors. All of them surface as
// ErrBackendUnavailable; the class only drives logging.
const (
	causeAcquisitionTimeout = "pool acquisition timeout"
	causeConnectTimeout     = "connect timeout"
	causeSocketTimeout      = "socket timeout"
	causeIO                 = "i/o failure"
)

// transport executes exactly one HTTP request against a bounded connection
// pool and returns a normalized envelope. It never retries.
type transport struct {
	client *http.Client

	// connWait bounds obtaining a connection: waiting for a free pooled
	// one plus dialing a new one. Callers blocked on a full pool fail
	// once it elapses.
	connWait time.Duration

	// budget is the total wall-clock bound for one call.
	budget time.Duration

	logger *slog.Logger

	requests    atomic.Int64
	failures    atomic.Int64
	inFlight    atomic.Int64
	connsNew    atomic.Int64
	connsReused atomic.Int64
}

func newTransport(cfg *config.Config, logger *slog.Logger) *transport {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout()}

	pooled := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConns:          cfg.MaxConnections,
		MaxIdleConnsPerHost:   cfg.MaxConnections,
		ResponseHeaderTimeout: cfg.SocketTimeout(),
		IdleConnTimeout:       90 * time.Second,
	}

	return &transport{
		client:   &http.Client{Transport: pooled},
		connWait: cfg.AcquisitionTimeout() + cfg.ConnectTimeout(),
		budget:   cfg.AcquisitionTimeout() + cfg.ConnectTimeout() + cfg.SocketTimeout(),
		logger:   logger,
	}
}

// execute runs one request and returns the status and the fully-read body.
// The response is drained and closed on every path so the connection goes
// back to the pool immediately.
func (t *transport) execute(req *http.Request) (Envelope, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.budget)
	defer cancel()

	// Required for the pool to recycle the connection.
	req.Header.Set("Connection", "keep-alive")

	var dialStarted, connObtained, connReused, acqTimedOut atomic.Bool
	trace := &httptrace.ClientTrace{
		ConnectStart: func(string, string) { dialStarted.Store(true) },
		GotConn: func(info httptrace.GotConnInfo) {
			connObtained.Store(true)
			connReused.Store(info.Reused)
		},
	}

	// The pool has no native bound on how long a caller may wait for a
	// free connection, so enforce it here: abort the call if no
	// connection was obtained within the acquisition window.
	acqCtx, acqCancel := context.WithCancel(ctx)
	defer acqCancel()
	acqTimer := time.AfterFunc(t.connWait, func() {
		if !connObtained.Load() {
			acqTimedOut.Store(true)
			acqCancel()
		}
	})
	defer acqTimer.Stop()

	req = req.WithContext(httptrace.WithClientTrace(acqCtx, trace))

	t.requests.Add(1)
	t.inFlight.Add(1)
	defer t.inFlight.Add(-1)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return Envelope{}, t.fail(req, err, classify(err, acqTimedOut.Load(), dialStarted.Load(), connObtained.Load()), start)
	}
	defer resp.Body.Close()

	if connReused.Load() {
		t.connsReused.Add(1)
	} else {
		t.connsNew.Add(1)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Envelope{}, t.fail(req, err, classify(err, false, true, true), start)
	}

	t.logger.Debug("backend call completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	return Envelope{Status: resp.StatusCode, Body: string(body)}, nil
}

// fail logs the distinct failure class and wraps the error as
// ErrBackendUnavailable.
func (t *transport) fail(req *http.Request, err error, class string, start time.Time) error {
	t.failures.Add(1)

	t.logger.Error("backend call failed",
		"method", req.Method,
		"path", req.URL.Path,
		"cause", class,
		"duration", time.Since(start),
		"error", err,
	)

	return fmt.Errorf("%s %s: %s: %v: %w", req.Method, req.URL.Path, class, err, ErrBackendUnavailable)
}

// classify maps a transport error to its failure class using how far the
// call got: no connection in hand means the call died waiting for the pool
// or dialing, a connection in hand means the read timed out.
func classify(err error, acqTimedOut, dialStarted, connObtained bool) string {
	if acqTimedOut && !connObtained {
		if dialStarted {
			return causeConnectTimeout
		}
		return causeAcquisitionTimeout
	}

	var netErr net.Error
	timeout := errors.As(err, &netErr) && netErr.Timeout() ||
		errors.Is(err, context.DeadlineExceeded)
	if !timeout {
		return causeIO
	}

	switch {
	case connObtained:
		return causeSocketTimeout
	case dialStarted:
		return causeConnectTimeout
	default:
		return causeAcquisitionTimeout
	}
}
