package internal

import (
	"context"
	"time"

	"github.com/lychee-technology/strata"
)

// InstrumentProvider wraps p so every call reports its latency. A positive
// timeout bounds each call.
func InstrumentProvider(p strata.CloudProvider, timeout time.Duration) strata.CloudProvider {
	return &instrumentedProvider{next: p, timeout: timeout}
}

type instrumentedProvider struct {
	next    strata.CloudProvider
	timeout time.Duration
}

func (p *instrumentedProvider) call(ctx context.Context, op string) (context.Context, func()) {
	start := time.Now()
	cancel := func() {}
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	return ctx, func() {
		EmitProviderLatency(ctx, op, time.Since(start).Milliseconds())
		cancel()
	}
}

func (p *instrumentedProvider) Launch(ctx context.Context, req strata.LaunchRequest) (*strata.Reservation, error) {
	ctx, done := p.call(ctx, "launch")
	defer done()
	return p.next.Launch(ctx, req)
}

func (p *instrumentedProvider) Describe(ctx context.Context, filter strata.InstanceFilter) ([]strata.Reservation, error) {
	ctx, done := p.call(ctx, "describe")
	defer done()
	return p.next.Describe(ctx, filter)
}

func (p *instrumentedProvider) Terminate(ctx context.Context, instanceIDs []string) error {
	ctx, done := p.call(ctx, "terminate")
	defer done()
	return p.next.Terminate(ctx, instanceIDs)
}
