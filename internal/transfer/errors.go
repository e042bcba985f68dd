package transfer

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCancelled        = errors.New("cancelled")
	ErrOffsetMismatch   = errors.New("resume offset mismatch")
	ErrSizeMismatch     = errors.New("on-disk size mismatch")
	ErrRetriesExhausted = errors.New("retry bound exceeded")
	ErrControllerUsed   = errors.New("controller already used")
	ErrEmptyPlan        = errors.New("empty chunk plan")
	ErrShortRead        = errors.New("connection closed before chunk end")
	ErrNoBackend        = errors.New("no download backend available")
)

// StatusError is a non-success HTTP reply. Its message is the status line
// text, e.g. "403 Forbidden".
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
}

// Temporary reports whether the server side may succeed on a later attempt.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

func newStatusError(code int, status string) *StatusError {
	if status == "" {
		status = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
	return &StatusError{Code: code, Status: status}
}

func success(bytes uint64, eos bool) ChunkResult {
	return ChunkResult{Bytes: bytes, Outcome: ChunkSuccess, EndOfStream: eos}
}

func retryable(bytes uint64, err error) ChunkResult {
	return ChunkResult{Bytes: bytes, Outcome: ChunkRetryable, Reason: err.Error(), Err: err}
}

func fatal(bytes uint64, err error) ChunkResult {
	return ChunkResult{Bytes: bytes, Outcome: ChunkFatal, Reason: err.Error(), Err: err}
}

// classifyStatus turns an HTTP status error into a chunk result.
func classifyStatus(bytes uint64, err *StatusError) ChunkResult {
	if err.Temporary() {
		return retryable(bytes, err)
	}
	return fatal(bytes, err)
}

// ChunkError reports a chunk the fetcher classified as fatal. Its Reason is
// the fetcher's own reason, e.g. "403 Forbidden".
type ChunkError struct {
	Index  int
	Result ChunkResult
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %s", e.Index, e.Reason())
}

func (e *ChunkError) Reason() string {
	if e.Result.Reason != "" {
		return e.Result.Reason
	}
	if e.Result.Err != nil {
		return e.Result.Err.Error()
	}
	return "unknown failure"
}

func (e *ChunkError) Unwrap() error {
	return e.Result.Err
}
