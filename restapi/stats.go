package restapi

import (
	"context"
	"fmt"
	"time"
)

// Stats is a point-in-time snapshot of the client's pool activity.
type Stats struct {
	Requests    int64
	Failures    int64
	InFlight    int64
	ConnsNew    int64
	ConnsReused int64
}

func (s Stats) String() string {
	return fmt.Sprintf("requests=%d failures=%d inFlight=%d connsNew=%d connsReused=%d",
		s.Requests, s.Failures, s.InFlight, s.ConnsNew, s.ConnsReused)
}

// Stats returns the current pool statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:    c.transport.requests.Load(),
		Failures:    c.transport.failures.Load(),
		InFlight:    c.transport.inFlight.Load(),
		ConnsNew:    c.transport.connsNew.Load(),
		ConnsReused: c.transport.connsReused.Load(),
	}
}

// LogStats writes one statistics line to the client's logger.
func (c *Client) LogStats() {
	s := c.Stats()
	c.logger.Info("http pool stats",
		"requests", s.Requests,
		"failures", s.Failures,
		"in_flight", s.InFlight,
		"conns_new", s.ConnsNew,
		"conns_reused", s.ConnsReused,
	)
}

// ReportStats logs pool statistics every interval until ctx is cancelled.
// An interval of zero or less disables reporting and returns immediately.
func (c *Client) ReportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.LogStats()
		}
	}
}
