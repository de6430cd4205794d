package app

import (
	"context"
	"time"

	"github.com/lexatlas/lexatlas/internal/adapter/httpserver"
)

// Probe is one named readiness dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Readiness builds the readiness function from the configured probes. Each
// probe gets its own short deadline so one hung dependency cannot stall the
// whole endpoint.
func Readiness(probes ...Probe) httpserver.ReadinessFunc {
	return func(ctx context.Context) []httpserver.ReadinessCheck {
		out := make([]httpserver.ReadinessCheck, 0, len(probes))
		for _, p := range probes {
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := p.Check(pctx)
			cancel()
			c := httpserver.ReadinessCheck{Name: p.Name, OK: err == nil}
			if err != nil {
				c.Details = err.Error()
			}
			out = append(out, c)
		}
		return out
	}
}
