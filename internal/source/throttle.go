package source

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps a single throttled read chunk.
const maxBurstSize = 256 * 1024

// throttledReader is an io.Reader with token-bucket rate limiting,
// bounding how fast a command or URL cycle can hand bytes to the
// pipeline so a runaway producer cannot spike memory faster than the
// pool can absorb it. Script stdout is not throttled; it is captured by
// a capped limitedBuffer instead.
type throttledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// newThrottledReader wraps r with a bytesPerSec rate limit. If
// bytesPerSec <= 0 (no max_read_rate configured), r is returned
// unmodified — throttling is bypassed, not a zero-rate stall.
func newThrottledReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &throttledReader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Read limits each underlying read to the burst size and blocks for
// tokens before returning, so large reads drain gradually.
func (tr *throttledReader) Read(p []byte) (int, error) {
	chunk := len(p)
	if chunk > tr.limiter.Burst() {
		chunk = tr.limiter.Burst()
	}

	if err := tr.limiter.WaitN(tr.ctx, chunk); err != nil {
		return 0, err
	}

	return tr.r.Read(p[:chunk])
}
