package archive

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/eprints2archives/eprints2archives/internal/interrupt"
)

// Paced wraps a Driver with a minimum inter-submission delay, restoring
// the per-service pacing some archiving services expect. Pipeline wires
// this in only when Config.SubmitPacing is non-zero.
type Paced struct {
	Driver
	limiter *rate.Limiter
}

// NewPaced wraps d so that calls to Save are spaced at least interval
// apart, using golang.org/x/time/rate rather than a bare time.Sleep so
// bursts up to 1 are still allowed immediately.
func NewPaced(d Driver, interval time.Duration) *Paced {
	return &Paced{Driver: d, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *Paced) Save(ctx context.Context, tok *interrupt.Token, rawURL string, notify NotifyFunc, force bool) (bool, int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return false, 0, err
	}
	return p.Driver.Save(ctx, tok, rawURL, notify, force)
}
