package transfer

import (
	"errors"
	"time"
)

// UnknownSize marks a transfer whose length is only known once the server
// signals end of stream.
const UnknownSize int64 = -1

// Target is the immutable description of one download request.
type Target struct {
	URL             string
	DestinationPath string
	ExpectedSize    int64
}

func (t Target) SizeKnown() bool {
	return t.ExpectedSize >= 0
}

// Chunk is one planned segment. For known sizes StartByte/EndByte give the
// half-open byte range; for unknown sizes Limit caps how many bytes are
// pulled before the connection is torn down (0 means read to end of stream).
type Chunk struct {
	Index        int
	StartPercent uint8
	EndPercent   uint8
	StartByte    int64
	EndByte      int64
	Limit        int64
	Last         bool
}

func (c Chunk) Length() int64 {
	return c.EndByte - c.StartByte
}

type ChunkPlan struct {
	Chunks []Chunk
	Size   int64
}

func (p ChunkPlan) SizeKnown() bool {
	return p.Size >= 0
}

type ChunkOutcome int

const (
	ChunkSuccess ChunkOutcome = iota
	ChunkRetryable
	ChunkFatal
)

func (o ChunkOutcome) String() string {
	switch o {
	case ChunkSuccess:
		return "success"
	case ChunkRetryable:
		return "retryable"
	case ChunkFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ChunkResult is what a Fetcher reports for one attempt at one chunk. Bytes
// counts what was flushed to the destination during this attempt, whatever
// the outcome.
type ChunkResult struct {
	Bytes       uint64
	Duration    time.Duration
	Outcome     ChunkOutcome
	EndOfStream bool
	Reason      string
	Err         error
}

// State is owned by a single Controller for the lifetime of one transfer.
type State struct {
	BytesWritten    uint64
	ChunksCompleted uint32
	ChunksRestarted uint32
	StartTime       time.Time
	ChunkStartTime  time.Time
}

type ProgressSample struct {
	Percent           uint8
	CurrentBps        float64
	ChunkAverageBps   float64
	OverallAverageBps float64
	BytesWritten      uint64
	TotalBytes        int64
	Chunk             int
	Chunks            int
}

type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of Controller.Run.
type Outcome struct {
	Status    Status
	FinalSize uint64
	Reason    string
	Err       error
	State     State
}

func (o Outcome) Completed() bool {
	return o.Status == StatusCompleted
}

func (o Outcome) Cancelled() bool {
	return o.Status == StatusFailed && errors.Is(o.Err, ErrCancelled)
}

// ChunkReport is handed to Options.OnChunk after every fetch attempt.
type ChunkReport struct {
	Index   int
	Attempt int
	Result  ChunkResult
	State   State
	Sample  ProgressSample
}
