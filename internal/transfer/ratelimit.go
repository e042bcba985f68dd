package transfer

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

const rateSliceBytes = 16 * 1024

// rateWriter throttles writes to a bytes-per-second budget.
type rateWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// newRateLimiter returns nil when bps is not positive.
func newRateLimiter(bps int64) *rate.Limiter {
	if bps <= 0 {
		return nil
	}
	burst := int(bps)
	if burst < rateSliceBytes {
		burst = rateSliceBytes
	}
	return rate.NewLimiter(rate.Limit(bps), burst)
}

func limitWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &rateWriter{ctx: ctx, w: w, limiter: limiter}
}

func (rw *rateWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := min(rateSliceBytes, len(p)-written)
		if err := rw.limiter.WaitN(rw.ctx, n); err != nil {
			return written, fmt.Errorf("%w: %v", errRateWait, err)
		}
		m, err := rw.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
