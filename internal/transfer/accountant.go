package transfer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSampleInterval is the speed sampling window.
const DefaultSampleInterval = time.Second

// minElapsed guards speed computations against tiny or zero intervals.
const minElapsed = time.Millisecond

// Observation is the raw input of one speed sample.
type Observation struct {
	WindowBytes   uint64
	WindowElapsed time.Duration
	ChunkBytes    uint64
	ChunkElapsed  time.Duration
	RunBytes      uint64
	RunElapsed    time.Duration
	Written       uint64
	Total         int64
	Chunk         int
	Chunks        int
}

// Observe converts byte counters and elapsed times into a ProgressSample.
// Speeds are always finite and non-negative.
func Observe(o Observation) ProgressSample {
	return ProgressSample{
		Percent:           percentOf(o.Written, o.Total),
		CurrentBps:        bytesPerSecond(o.WindowBytes, o.WindowElapsed),
		ChunkAverageBps:   bytesPerSecond(o.ChunkBytes, o.ChunkElapsed),
		OverallAverageBps: bytesPerSecond(o.RunBytes, o.RunElapsed),
		BytesWritten:      o.Written,
		TotalBytes:        o.Total,
		Chunk:             o.Chunk,
		Chunks:            o.Chunks,
	}
}

func bytesPerSecond(bytes uint64, elapsed time.Duration) float64 {
	if elapsed <= minElapsed {
		return 0
	}
	v := float64(bytes) / elapsed.Seconds()
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func percentOf(written uint64, total int64) uint8 {
	if total < 0 {
		return 0
	}
	if total == 0 || written >= uint64(total) {
		return 100
	}
	return uint8(written * 100 / uint64(total))
}

// Accountant keeps the byte counters of one transfer. Add and BeginChunk
// are called from the fetch path; Sample may be called concurrently from a
// ticker and only reads the counters.
type Accountant struct {
	total  int64
	chunks int
	base   uint64
	start  time.Time
	now    func() time.Time

	runBytes   atomic.Uint64
	chunkBytes atomic.Uint64
	chunkIndex atomic.Int64
	chunkStart atomic.Int64

	mu          sync.RWMutex
	windowBytes uint64
	windowAt    time.Time
	last        ProgressSample
}

// NewAccountant starts accounting for a transfer of total bytes (UnknownSize
// if not known) in which resumed bytes were already on disk.
func NewAccountant(total int64, chunks int, resumed uint64) *Accountant {
	return newAccountantAt(total, chunks, resumed, time.Now)
}

func newAccountantAt(total int64, chunks int, resumed uint64, now func() time.Time) *Accountant {
	start := now()
	a := &Accountant{
		total:    total,
		chunks:   chunks,
		base:     resumed,
		start:    start,
		now:      now,
		windowAt: start,
	}
	a.chunkStart.Store(start.UnixNano())
	a.last = ProgressSample{
		Percent:      percentOf(resumed, total),
		BytesWritten: resumed,
		TotalBytes:   total,
		Chunks:       chunks,
	}
	return a
}

func (a *Accountant) Add(n int64) {
	if n <= 0 {
		return
	}
	a.runBytes.Add(uint64(n))
	a.chunkBytes.Add(uint64(n))
}

func (a *Accountant) BeginChunk(index int) {
	a.chunkIndex.Store(int64(index))
	a.chunkBytes.Store(0)
	a.chunkStart.Store(a.now().UnixNano())
}

func (a *Accountant) Written() uint64 {
	return a.base + a.runBytes.Load()
}

// Sample computes a fresh sample and closes the current speed window.
func (a *Accountant) Sample() ProgressSample {
	now := a.now()
	run := a.runBytes.Load()
	chunkBytes := a.chunkBytes.Load()
	chunkStart := time.Unix(0, a.chunkStart.Load())

	a.mu.Lock()
	defer a.mu.Unlock()
	var delta uint64
	if run > a.windowBytes {
		delta = run - a.windowBytes
	}
	s := Observe(Observation{
		WindowBytes:   delta,
		WindowElapsed: now.Sub(a.windowAt),
		ChunkBytes:    chunkBytes,
		ChunkElapsed:  now.Sub(chunkStart),
		RunBytes:      run,
		RunElapsed:    now.Sub(a.start),
		Written:       a.base + run,
		Total:         a.total,
		Chunk:         int(a.chunkIndex.Load()),
		Chunks:        a.chunks,
	})
	a.windowBytes = run
	a.windowAt = now
	a.last = s
	return s
}

// Last returns the most recent sample without opening a new window.
func (a *Accountant) Last() ProgressSample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}
