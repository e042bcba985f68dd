package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/catchup/internal/utils"
	"golang.org/x/time/rate"
)

const httpReadBuffer = 256 * 1024

var errRateWait = errors.New("rate limiter wait aborted")

// HTTPFetcher is the in-process transport. Every attempt dials a fresh
// connection so a throttled one is never reused.
type HTTPFetcher struct {
	client  *utils.CatchupHTTPClient
	limiter *rate.Limiter
}

func NewHTTPFetcher(client *utils.CatchupHTTPClient, limitBps int64) *HTTPFetcher {
	return &HTTPFetcher{
		client:  client,
		limiter: newRateLimiter(limitBps),
	}
}

func (f *HTTPFetcher) Name() string {
	return BackendNative
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r FetchRequest) ChunkResult {
	start := time.Now()
	res := f.fetch(ctx, r)
	res.Duration = time.Since(start)
	return res
}

func (f *HTTPFetcher) fetch(ctx context.Context, r FetchRequest) ChunkResult {
	stop := r.stopAt()
	if stop >= 0 && int64(r.Offset) >= stop {
		return success(0, false)
	}
	out, err := os.OpenFile(r.Target.DestinationPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fatal(0, fmt.Errorf("error opening output file: %w", err))
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Target.URL, nil)
	if err != nil {
		return fatal(0, fmt.Errorf("error creating GET request: %w", err))
	}
	req.Close = true
	switch {
	case r.knownSize():
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Offset, stop-1))
	case r.Offset > 0:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.Offset))
	}
	log.Debug().Str("op", "transfer/http-fetcher").Msgf("chunk %d requesting %s", r.Chunk.Index, req.Header.Get("Range"))

	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, 0, fmt.Errorf("error executing GET request: %w", err))
	}
	defer resp.Body.Close()
	if res, ok := checkResponse(resp, r); !ok {
		return res
	}

	var body io.Reader = resp.Body
	if stop >= 0 {
		body = io.LimitReader(resp.Body, stop-int64(r.Offset))
	}
	dst := limitWriter(ctx, out, f.limiter)
	buffer := make([]byte, httpReadBuffer)
	var written uint64
	for {
		n, readErr := body.Read(buffer)
		if n > 0 {
			m, writeErr := dst.Write(buffer[:n])
			written += uint64(m)
			r.meter(m)
			if writeErr != nil {
				out.Sync()
				if errors.Is(writeErr, errRateWait) || ctx.Err() != nil {
					return retryable(written, writeErr)
				}
				return fatal(written, fmt.Errorf("error writing to output file: %w", writeErr))
			}
		}
		if readErr != nil {
			out.Sync()
			if readErr != io.EOF {
				return classifyTransportError(ctx, written, fmt.Errorf("error reading response body: %w", readErr))
			}
			break
		}
	}
	if err := out.Sync(); err != nil {
		return fatal(written, fmt.Errorf("error syncing output file: %w", err))
	}
	return finishRead(r, written)
}

// finishRead decides what a clean end of body means for the chunk.
func finishRead(r FetchRequest, written uint64) ChunkResult {
	end := int64(r.Offset + written)
	if r.knownSize() {
		if end < r.Chunk.EndByte {
			return retryable(written, fmt.Errorf("%w at byte %d of %d", ErrShortRead, end, r.Chunk.EndByte))
		}
		return success(written, false)
	}
	if r.Chunk.Limit > 0 && int64(written) >= r.Chunk.Limit {
		return success(written, false)
	}
	return success(written, true)
}

// checkResponse validates the status and the served range against the
// requested resume offset.
func checkResponse(resp *http.Response, r FetchRequest) (ChunkResult, bool) {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		if cr == "" {
			return fatal(0, fmt.Errorf("%w: partial reply without Content-Range", ErrOffsetMismatch)), false
		}
		start, _, _, err := ParseContentRange(cr)
		if err != nil {
			return fatal(0, fmt.Errorf("%w: %v", ErrOffsetMismatch, err)), false
		}
		if uint64(start) != r.Offset {
			return fatal(0, fmt.Errorf("%w: requested byte %d, server sent %d", ErrOffsetMismatch, r.Offset, start)), false
		}
		return ChunkResult{}, true
	case http.StatusOK:
		if r.Offset > 0 {
			return fatal(0, fmt.Errorf("%w: server ignored range at byte %d", ErrOffsetMismatch, r.Offset)), false
		}
		return ChunkResult{}, true
	case http.StatusRequestedRangeNotSatisfiable:
		if !r.knownSize() && r.Offset > 0 {
			return success(0, true), false
		}
	}
	return classifyStatus(0, newStatusError(resp.StatusCode, resp.Status)), false
}
