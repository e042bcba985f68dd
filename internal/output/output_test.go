package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tanq16/catchup/internal/transfer"
)

func TestProgressBar(t *testing.T) {
	bar := ProgressBar(50, 10)
	assert.Equal(t, 5, strings.Count(bar, StyleSymbols["hline"]))
	assert.True(t, strings.HasSuffix(bar, " 50%"))
	assert.Equal(t, 10, strings.Count(ProgressBar(200, 10), StyleSymbols["hline"]))
	assert.Equal(t, 0, strings.Count(ProgressBar(0, 10), StyleSymbols["hline"]))
}

func TestProgressLine(t *testing.T) {
	line := ProgressLine(transfer.ProgressSample{
		Percent:           40,
		CurrentBps:        2 * 1024 * 1024,
		ChunkAverageBps:   1024,
		OverallAverageBps: 0,
		BytesWritten:      400 * 1024,
		TotalBytes:        1000 * 1024,
		Chunk:             3,
		Chunks:            10,
	})
	assert.Contains(t, line, " 40%")
	assert.Contains(t, line, "now 2.00 MB/s")
	assert.Contains(t, line, "chunk 1.00 KB/s")
	assert.Contains(t, line, "avg 0 B/s")
	assert.Contains(t, line, "part 4/10")
	assert.Contains(t, line, "400.00 KB/1000.00 KB")

	unknown := ProgressLine(transfer.ProgressSample{BytesWritten: 10, TotalBytes: transfer.UnknownSize, Chunks: 1})
	assert.NotContains(t, unknown, "%")
	assert.Contains(t, unknown, "10 B")
	assert.Contains(t, unknown, "part 1/1")
}

func TestSummary(t *testing.T) {
	orig := timeSince
	timeSince = func(time.Time) time.Duration { return 90 * time.Second }
	defer func() { timeSince = orig }()

	done := transfer.Outcome{
		Status:    transfer.StatusCompleted,
		FinalSize: 2048,
		State:     transfer.State{ChunksRestarted: 9, StartTime: time.Now()},
	}
	assert.Equal(t, "2.00 KB in 1m30s, 9 reconnects", Summary(done))

	failed := transfer.Outcome{Status: transfer.StatusFailed, FinalSize: 10, Reason: "403 Forbidden"}
	assert.Equal(t, "failed after 10 B: 403 Forbidden", Summary(failed))
}

func TestManagerFinalRender(t *testing.T) {
	var buf bytes.Buffer
	m := newManager(&buf, false)
	a := m.Register("news.ts")
	b := m.Register("film.ts")
	c := m.Register("later.ts")
	m.StartDisplay()
	m.Progress(a, transfer.ProgressSample{Percent: 10, TotalBytes: 100, Chunks: 10})
	assert.Equal(t, StatusRunning, m.Status(a))
	m.Complete(a, "")
	m.ReportError(b, errors.New("403 Forbidden"))
	m.Warn(c, "ffmpeg not found, skipping repair")
	m.StopDisplay()

	out := buf.String()
	assert.Contains(t, out, "Completed news.ts")
	assert.Contains(t, out, "Failed film.ts")
	assert.Contains(t, out, "ffmpeg not found, skipping repair")
	assert.Contains(t, out, "Completed 1 of 3")
	assert.Contains(t, out, "Failed 1 of 3")
	assert.Contains(t, out, "Error: 403 Forbidden")
	assert.Equal(t, "unknown", m.Status(42))

	success, failed := m.Counts()
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, failed)
}

func TestRenderOrdersRunningFirst(t *testing.T) {
	m := newManager(&bytes.Buffer{}, false)
	done := m.Register("done")
	m.Register("waiting")
	running := m.Register("running")
	m.Complete(done, "finished")
	m.SetMessage(running, "downloading")

	lines := m.render(100)
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "downloading")
	assert.Contains(t, lines[1], "Waiting...")
	assert.Contains(t, lines[2], "finished")

	assert.Len(t, m.render(2), 2)
}
