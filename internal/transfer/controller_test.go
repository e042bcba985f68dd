package transfer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/catchup/internal/transfer"
	"github.com/tanq16/catchup/internal/transfer/mocks"
	"go.uber.org/mock/gomock"
)

const scenarioSize = 1_000_000

func appendZeros(t *testing.T, path string, n int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(make([]byte, n))
	require.NoError(t, err)
}

// completeChunk writes the rest of the requested chunk and reports success.
func completeChunk(t *testing.T) func(context.Context, transfer.FetchRequest) transfer.ChunkResult {
	return func(_ context.Context, req transfer.FetchRequest) transfer.ChunkResult {
		n := req.Chunk.EndByte - int64(req.Offset)
		appendZeros(t, req.Target.DestinationPath, n)
		req.Meter.Add(n)
		return transfer.ChunkResult{Bytes: uint64(n), Outcome: transfer.ChunkSuccess}
	}
}

func newMockFetcher(t *testing.T) *mocks.MockFetcher {
	ctrl := gomock.NewController(t)
	f := mocks.NewMockFetcher(ctrl)
	f.EXPECT().Name().Return("mock").AnyTimes()
	return f
}

func testOptions() transfer.Options {
	opts := transfer.DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	return opts
}

func scenarioTarget(t *testing.T) transfer.Target {
	return transfer.Target{
		URL:             "http://tv.example/stream.ts",
		DestinationPath: filepath.Join(t.TempDir(), "rec", "stream.ts"),
		ExpectedSize:    scenarioSize,
	}
}

func fileLen(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestControllerCompletesDeciles(t *testing.T) {
	f := newMockFetcher(t)
	var offsets []uint64
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			offsets = append(offsets, req.Offset)
			assert.Equal(t, uint64(req.Chunk.StartByte), req.Offset)
			return completeChunk(t)(ctx, req)
		},
	).Times(10)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	var afterFifth transfer.State
	var samples int
	opts := testOptions()
	opts.OnChunk = func(r transfer.ChunkReport) {
		if r.Index == 4 {
			afterFifth = r.State
		}
	}
	opts.OnProgress = func(transfer.ProgressSample) { samples++ }
	target := scenarioTarget(t)
	c := transfer.NewController(f, opts)
	assert.Equal(t, transfer.StatusIdle, c.Status())

	out := c.Run(context.Background(), target, plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, transfer.StatusCompleted, c.Status())
	assert.Equal(t, uint64(scenarioSize), out.FinalSize)
	assert.Equal(t, uint64(500_000), afterFifth.BytesWritten)
	assert.Equal(t, uint32(10), out.State.ChunksCompleted)
	assert.Equal(t, uint32(9), out.State.ChunksRestarted)
	assert.Len(t, offsets, 10)
	assert.Equal(t, int64(scenarioSize), fileLen(t, target.DestinationPath))
	assert.GreaterOrEqual(t, samples, 11)
	assert.NotEmpty(t, c.ID())
}

func TestControllerSingleChunkNeverRestarts(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(completeChunk(t)).Times(1)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 1})
	require.NoError(t, err)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), scenarioTarget(t), plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, uint32(1), out.State.ChunksCompleted)
	assert.Zero(t, out.State.ChunksRestarted)
}

func TestControllerRetriesDoNotCountAsCompleted(t *testing.T) {
	f := newMockFetcher(t)
	failures := 0
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			if req.Chunk.Index == 2 && failures < 2 {
				failures++
				err := errors.New("connection reset by peer")
				return transfer.ChunkResult{Outcome: transfer.ChunkRetryable, Reason: err.Error(), Err: err}
			}
			return completeChunk(t)(ctx, req)
		},
	).Times(12)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	attempts := map[int]int{}
	opts := testOptions()
	opts.OnChunk = func(r transfer.ChunkReport) {
		attempts[r.Index] = r.Attempt
	}
	out := transfer.NewController(f, opts).Run(context.Background(), scenarioTarget(t), plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, uint32(10), out.State.ChunksCompleted)
	assert.Equal(t, 3, attempts[2])
	assert.Equal(t, 1, attempts[3])
}

func TestControllerRetryResumesFromDisk(t *testing.T) {
	f := newMockFetcher(t)
	var chunkOneOffsets []uint64
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			if req.Chunk.Index == 1 {
				chunkOneOffsets = append(chunkOneOffsets, req.Offset)
				if len(chunkOneOffsets) == 1 {
					appendZeros(t, req.Target.DestinationPath, 40_000)
					err := errors.New("unexpected EOF")
					return transfer.ChunkResult{Bytes: 40_000, Outcome: transfer.ChunkRetryable, Reason: err.Error(), Err: err}
				}
			}
			return completeChunk(t)(ctx, req)
		},
	).Times(11)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	target := scenarioTarget(t)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), target, plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, []uint64{100_000, 140_000}, chunkOneOffsets)
	assert.Equal(t, int64(scenarioSize), fileLen(t, target.DestinationPath))
	assert.Equal(t, uint64(scenarioSize), out.State.BytesWritten)
}

func TestControllerFatalStopsTransfer(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			if req.Chunk.Index == 3 {
				err := &transfer.StatusError{Code: 403, Status: "403 Forbidden"}
				return transfer.ChunkResult{Outcome: transfer.ChunkFatal, Reason: err.Error(), Err: err}
			}
			return completeChunk(t)(ctx, req)
		},
	).Times(4)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	target := scenarioTarget(t)
	c := transfer.NewController(f, testOptions())
	out := c.Run(context.Background(), target, plan)
	assert.Equal(t, transfer.StatusFailed, out.Status)
	assert.Equal(t, transfer.StatusFailed, c.Status())
	assert.Equal(t, "403 Forbidden", out.Reason)
	var se *transfer.StatusError
	require.True(t, errors.As(out.Err, &se))
	assert.Equal(t, 403, se.Code)
	assert.False(t, out.Cancelled())
	assert.Equal(t, int64(300_000), fileLen(t, target.DestinationPath))
}

func TestControllerCancelBetweenChunks(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(completeChunk(t)).Times(6)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := testOptions()
	opts.OnChunk = func(r transfer.ChunkReport) {
		if r.Index == 5 {
			cancel()
		}
	}
	target := scenarioTarget(t)
	out := transfer.NewController(f, opts).Run(ctx, target, plan)
	assert.Equal(t, transfer.StatusFailed, out.Status)
	assert.True(t, out.Cancelled())
	assert.ErrorIs(t, out.Err, transfer.ErrCancelled)
	assert.Equal(t, uint32(6), out.State.ChunksCompleted)
	assert.Equal(t, uint64(600_000), out.FinalSize)
	assert.Equal(t, int64(600_000), fileLen(t, target.DestinationPath))
}

func TestControllerRetryBoundExceeded(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			err := errors.New("503 Service Unavailable")
			return transfer.ChunkResult{Outcome: transfer.ChunkRetryable, Reason: err.Error(), Err: err}
		},
	).Times(transfer.DefaultMaxRetries + 1)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), scenarioTarget(t), plan)
	assert.Equal(t, transfer.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, transfer.ErrRetriesExhausted)
	assert.Contains(t, out.Reason, "retry bound exceeded")
	assert.Contains(t, out.Reason, "503 Service Unavailable")
}

func TestControllerDetectsDiskDrift(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			appendZeros(t, req.Target.DestinationPath, 90_000)
			return transfer.ChunkResult{Bytes: 100_000, Outcome: transfer.ChunkSuccess}
		},
	).Times(1)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), scenarioTarget(t), plan)
	assert.Equal(t, transfer.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, transfer.ErrSizeMismatch)
}

func TestControllerOffsetMismatchIsFatal(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			if req.Chunk.Index == 1 {
				err := transfer.ErrOffsetMismatch
				return transfer.ChunkResult{Outcome: transfer.ChunkFatal, Reason: err.Error(), Err: err}
			}
			return completeChunk(t)(ctx, req)
		},
	).Times(2)

	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), scenarioTarget(t), plan)
	assert.Equal(t, transfer.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, transfer.ErrOffsetMismatch)
}

func TestControllerShortSuccessIsRetried(t *testing.T) {
	f := newMockFetcher(t)
	calls := 0
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			calls++
			if calls == 1 {
				appendZeros(t, req.Target.DestinationPath, 10)
				return transfer.ChunkResult{Bytes: 10, Outcome: transfer.ChunkSuccess}
			}
			return completeChunk(t)(ctx, req)
		},
	).Times(2)

	plan, err := transfer.Plan(1000, transfer.PlanOptions{ChunkCount: 1})
	require.NoError(t, err)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), scenarioTarget(t), plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, uint64(1000), out.FinalSize)
}

func TestControllerResumeSkipsCompletedChunks(t *testing.T) {
	f := newMockFetcher(t)
	var first *transfer.FetchRequest
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			if first == nil {
				first = &req
			}
			return completeChunk(t)(ctx, req)
		},
	).Times(8)

	target := scenarioTarget(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(target.DestinationPath), 0755))
	appendZeros(t, target.DestinationPath, 250_000)
	plan, err := transfer.Plan(scenarioSize, transfer.PlanOptions{ChunkCount: 10})
	require.NoError(t, err)
	opts := testOptions()
	opts.Resume = true
	out := transfer.NewController(f, opts).Run(context.Background(), target, plan)
	require.True(t, out.Completed(), out.Reason)
	require.NotNil(t, first)
	assert.Equal(t, 2, first.Chunk.Index)
	assert.Equal(t, uint64(250_000), first.Offset)
	assert.Equal(t, int64(scenarioSize), fileLen(t, target.DestinationPath))
}

func TestControllerTruncatesWithoutResume(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(completeChunk(t)).Times(1)

	target := scenarioTarget(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(target.DestinationPath), 0755))
	appendZeros(t, target.DestinationPath, 5000)
	plan, err := transfer.Plan(1000, transfer.PlanOptions{ChunkCount: 1})
	require.NoError(t, err)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), target, plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, int64(1000), fileLen(t, target.DestinationPath))
}

func TestControllerUnknownSizeStopsAtEndOfStream(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req transfer.FetchRequest) transfer.ChunkResult {
			n := req.Chunk.Limit
			eos := req.Chunk.Index == 1
			if eos {
				n = 50
			}
			appendZeros(t, req.Target.DestinationPath, n)
			return transfer.ChunkResult{Bytes: uint64(n), Outcome: transfer.ChunkSuccess, EndOfStream: eos}
		},
	).Times(2)

	plan, err := transfer.Plan(transfer.UnknownSize, transfer.PlanOptions{ChunkCount: 5, UnknownChunkBytes: 100})
	require.NoError(t, err)
	target := scenarioTarget(t)
	target.ExpectedSize = transfer.UnknownSize
	out := transfer.NewController(f, testOptions()).Run(context.Background(), target, plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, uint64(150), out.FinalSize)
	assert.Equal(t, uint32(2), out.State.ChunksCompleted)
}

func TestControllerIsSingleUse(t *testing.T) {
	f := newMockFetcher(t)
	f.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(completeChunk(t)).Times(1)

	plan, err := transfer.Plan(1000, transfer.PlanOptions{ChunkCount: 1})
	require.NoError(t, err)
	c := transfer.NewController(f, testOptions())
	target := scenarioTarget(t)
	require.True(t, c.Run(context.Background(), target, plan).Completed())
	out := c.Run(context.Background(), target, plan)
	assert.ErrorIs(t, out.Err, transfer.ErrControllerUsed)
}

func TestControllerEmptyPlan(t *testing.T) {
	f := newMockFetcher(t)
	out := transfer.NewController(f, testOptions()).Run(context.Background(), scenarioTarget(t), transfer.ChunkPlan{Size: 10})
	assert.ErrorIs(t, out.Err, transfer.ErrEmptyPlan)
}
