//go:generate mockgen -destination=mocks/fetcher.go -package=mocks . Fetcher
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Meter receives the number of bytes flushed to disk as they are written.
type Meter interface {
	Add(n int64)
}

// FetchRequest asks a Fetcher to continue the transfer of Target from
// Offset up to the end of Chunk.
type FetchRequest struct {
	Target Target
	Chunk  Chunk
	Offset uint64
	Meter  Meter
}

// Fetcher performs one attempt at one chunk. It appends to the destination
// file in order, classifies failures as retryable or fatal and never decides
// retry policy itself.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ChunkResult
}

// stopAt returns the absolute byte offset at which the attempt must stop,
// or -1 when it should read to end of stream.
func (r FetchRequest) stopAt() int64 {
	if r.Target.SizeKnown() || r.Chunk.EndByte > 0 {
		return r.Chunk.EndByte
	}
	if r.Chunk.Limit > 0 {
		return int64(r.Offset) + r.Chunk.Limit
	}
	return -1
}

func (r FetchRequest) knownSize() bool {
	return r.Target.SizeKnown() || r.Chunk.EndByte > 0
}

func (r FetchRequest) meter(n int) {
	if r.Meter != nil && n > 0 {
		r.Meter.Add(int64(n))
	}
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimSpace(strings.TrimPrefix(header, "bytes "))
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}
	return start, end, total, nil
}

// classifyTransportError maps connection-level failures. Everything that
// happens on the wire is retryable; the controller bounds the attempts.
func classifyTransportError(ctx context.Context, bytes uint64, err error) ChunkResult {
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(bytes, se)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return retryable(bytes, fmt.Errorf("chunk deadline exceeded: %w", err))
	}
	return retryable(bytes, err)
}

func fileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}
