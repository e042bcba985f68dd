package transfer_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/catchup/internal/transfer"
	"github.com/tanq16/catchup/internal/utils"
)

// cutWriter passes through limit bytes of the body and then calls cut.
type cutWriter struct {
	http.ResponseWriter
	limit int
	cut   func()
}

func (w *cutWriter) Write(p []byte) (int, error) {
	if len(p) <= w.limit {
		w.limit -= len(p)
		return w.ResponseWriter.Write(p)
	}
	n, _ := w.ResponseWriter.Write(p[:w.limit])
	w.limit = 0
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
	w.cut()
	return n, http.ErrHandlerTimeout
}

// flakyServer serves data with ranges but breaks every third response after
// 1000 body bytes, either by dropping the connection or by stalling until
// the client gives up.
func flakyServer(t *testing.T, data []byte, stall bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		var out http.ResponseWriter = w
		if n%3 == 0 {
			cut := func() { panic(http.ErrAbortHandler) }
			if stall {
				cut = func() { <-r.Context().Done() }
			}
			out = &cutWriter{ResponseWriter: w, limit: 1000, cut: cut}
		}
		http.ServeContent(out, r, "stream.ts", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func destPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "rec", "stream.ts")
}

func sourceBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i * 7) % 253)
	}
	return data
}

func TestControllerSurvivesBrokenConnections(t *testing.T) {
	for _, tt := range []struct {
		name  string
		stall bool
	}{
		{"dropped", false},
		{"stalled", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			data := sourceBytes(100_000)
			srv, requests := flakyServer(t, data, tt.stall)
			client := utils.NewCatchupHTTPClient(utils.HTTPClientConfig{Timeout: 10 * time.Second})

			opts := testOptions()
			opts.ChunkTimeout = 300 * time.Millisecond
			var retried atomic.Int32
			opts.OnChunk = func(r transfer.ChunkReport) {
				if r.Result.Outcome == transfer.ChunkRetryable {
					retried.Add(1)
				}
			}
			target := transfer.Target{URL: srv.URL, DestinationPath: destPath(t), ExpectedSize: int64(len(data))}
			plan, err := transfer.Plan(target.ExpectedSize, transfer.DefaultPlanOptions())
			require.NoError(t, err)

			start := time.Now()
			out := transfer.NewController(transfer.NewHTTPFetcher(client, 0), opts).Run(context.Background(), target, plan)
			require.True(t, out.Completed(), out.Reason)
			assert.Less(t, time.Since(start), 10*time.Second)
			assert.Equal(t, uint64(len(data)), out.FinalSize)
			assert.Equal(t, uint32(10), out.State.ChunksCompleted)
			assert.Equal(t, uint32(9), out.State.ChunksRestarted)
			assert.Positive(t, retried.Load())
			assert.Greater(t, requests.Load(), int32(10))

			got, err := os.ReadFile(target.DestinationPath)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got), "recorded file differs from source")
		})
	}
}

func TestControllerChunkTimeoutIsRetried(t *testing.T) {
	data := sourceBytes(5000)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out http.ResponseWriter = w
		if requests.Add(1) == 1 {
			out = &cutWriter{ResponseWriter: w, limit: 100, cut: func() { <-r.Context().Done() }}
		}
		http.ServeContent(out, r, "stream.ts", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.ChunkTimeout = 200 * time.Millisecond
	var reports []transfer.ChunkReport
	opts.OnChunk = func(r transfer.ChunkReport) { reports = append(reports, r) }
	target := transfer.Target{URL: srv.URL, DestinationPath: destPath(t), ExpectedSize: int64(len(data))}
	plan, err := transfer.Plan(target.ExpectedSize, transfer.PlanOptions{ChunkCount: 1})
	require.NoError(t, err)

	client := utils.NewCatchupHTTPClient(utils.HTTPClientConfig{Timeout: 10 * time.Second})
	ctrl := transfer.NewController(transfer.NewHTTPFetcher(client, 0), opts)
	assert.Zero(t, ctrl.Progress())
	out := ctrl.Run(context.Background(), target, plan)
	require.True(t, out.Completed(), out.Reason)
	assert.Equal(t, uint8(100), ctrl.Progress().Percent)
	assert.Equal(t, uint64(5000), ctrl.Progress().BytesWritten)
	require.Len(t, reports, 2)
	assert.Equal(t, transfer.ChunkRetryable, reports[0].Result.Outcome)
	assert.Contains(t, reports[0].Result.Reason, "deadline exceeded")
	assert.Equal(t, uint64(100), reports[0].Result.Bytes)
	assert.Equal(t, transfer.ChunkSuccess, reports[1].Result.Outcome)
	assert.Equal(t, uint64(4900), reports[1].Result.Bytes)

	got, err := os.ReadFile(target.DestinationPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
