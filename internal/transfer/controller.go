package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultChunkTimeout = 10 * time.Minute
)

type Options struct {
	MaxRetries     int
	RetryBackoff   time.Duration
	ChunkTimeout   time.Duration
	SampleInterval time.Duration
	// Resume keeps an existing destination file and continues after its
	// last byte instead of truncating it.
	Resume     bool
	OnProgress func(ProgressSample)
	OnChunk    func(ChunkReport)
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     DefaultMaxRetries,
		RetryBackoff:   DefaultRetryBackoff,
		ChunkTimeout:   DefaultChunkTimeout,
		SampleInterval: DefaultSampleInterval,
	}
}

// Controller drives one transfer through its chunk plan. It owns the
// transfer State and is good for exactly one Run.
type Controller struct {
	id      string
	fetcher Fetcher
	opts    Options
	used    atomic.Bool

	mu     sync.RWMutex
	status Status
	state  State
	acct   *Accountant

	publishMu sync.Mutex
}

func NewController(f Fetcher, opts Options) *Controller {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	return &Controller{
		id:      uuid.New().String(),
		fetcher: f,
		opts:    opts,
		status:  StatusIdle,
	}
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Progress returns the most recent sample of the transfer, or a zero sample
// before Run has started.
func (c *Controller) Progress() ProgressSample {
	c.mu.RLock()
	acct := c.acct
	c.mu.RUnlock()
	if acct == nil {
		return ProgressSample{}
	}
	return acct.Last()
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run transfers target according to plan. Chunks are fetched strictly in
// order, each over a new connection; bytes already flushed are kept on every
// failure path.
func (c *Controller) Run(ctx context.Context, target Target, plan ChunkPlan) Outcome {
	if !c.used.CompareAndSwap(false, true) {
		return Outcome{Status: StatusFailed, Reason: ErrControllerUsed.Error(), Err: ErrControllerUsed}
	}
	logger := log.With().Str("op", "transfer/controller").Str("transfer", c.id).Logger()
	if len(plan.Chunks) == 0 {
		return c.fail(logger, ErrEmptyPlan)
	}

	resumed, err := prepareDestination(target.DestinationPath, c.opts.Resume)
	if err != nil {
		return c.fail(logger, fmt.Errorf("error preparing destination: %w", err))
	}
	if plan.SizeKnown() && resumed > uint64(plan.Size) {
		return c.fail(logger, fmt.Errorf("%w: existing file has %d bytes, remote has %d", ErrSizeMismatch, resumed, plan.Size))
	}
	c.mu.Lock()
	c.status = StatusRunning
	c.state = State{BytesWritten: resumed, StartTime: time.Now()}
	c.mu.Unlock()
	if resumed > 0 {
		logger.Info().Msgf("Resuming %s at byte %d", target.DestinationPath, resumed)
	}
	logger.Debug().Msgf("Starting transfer of %s in %d chunks via %s", target.DestinationPath, len(plan.Chunks), c.fetcher.Name())

	acct := NewAccountant(plan.Size, len(plan.Chunks), resumed)
	c.mu.Lock()
	c.acct = acct
	c.mu.Unlock()
	stopSampler := c.startSampler(acct)
	defer stopSampler()

	for _, chunk := range plan.Chunks {
		if ctx.Err() != nil {
			return c.fail(logger, cancelled(ctx))
		}
		if plan.SizeKnown() && c.State().BytesWritten >= uint64(chunk.EndByte) {
			logger.Debug().Msgf("Chunk %d already on disk, skipping", chunk.Index)
			continue
		}
		res, err := c.runChunk(ctx, logger, acct, target, chunk)
		if err != nil {
			return c.fail(logger, err)
		}
		if res.EndOfStream {
			break
		}
	}

	written := c.State().BytesWritten
	if plan.SizeKnown() && written != uint64(plan.Size) {
		return c.fail(logger, fmt.Errorf("%w: wrote %d bytes, expected %d", ErrSizeMismatch, written, plan.Size))
	}
	c.publish(acct.Sample())
	c.mu.Lock()
	c.status = StatusCompleted
	state := c.state
	c.mu.Unlock()
	logger.Info().Msgf("Transfer of %s completed (%d bytes, %d fetched this run, %d reconnects)", target.DestinationPath, written, acct.Written()-resumed, state.ChunksRestarted)
	return Outcome{Status: StatusCompleted, FinalSize: written, State: state}
}

func (c *Controller) runChunk(ctx context.Context, logger zerolog.Logger, acct *Accountant, target Target, chunk Chunk) (ChunkResult, error) {
	attempts := c.opts.MaxRetries + 1
	var last ChunkResult
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.opts.RetryBackoff
			logger.Warn().Msgf("Retrying chunk %d (attempt %d/%d) after: %s", chunk.Index, attempt, attempts, last.Reason)
			select {
			case <-ctx.Done():
				return last, cancelled(ctx)
			case <-time.After(wait):
			}
		}
		if ctx.Err() != nil {
			return last, cancelled(ctx)
		}

		c.mu.Lock()
		offset := c.state.BytesWritten
		c.state.ChunkStartTime = time.Now()
		c.mu.Unlock()
		acct.BeginChunk(chunk.Index)

		chunkCtx, cancel := c.chunkContext(ctx)
		res := c.fetcher.Fetch(chunkCtx, FetchRequest{Target: target, Chunk: chunk, Offset: offset, Meter: acct})
		cancel()

		c.mu.Lock()
		c.state.BytesWritten += res.Bytes
		expected := c.state.BytesWritten
		c.mu.Unlock()
		onDisk, err := sizeOrZero(target.DestinationPath)
		if err != nil {
			return res, fmt.Errorf("error checking output file: %w", err)
		}
		if onDisk != expected {
			return res, fmt.Errorf("%w: file holds %d bytes, expected %d after chunk %d", ErrSizeMismatch, onDisk, expected, chunk.Index)
		}
		if res.Outcome == ChunkSuccess && chunk.EndByte > 0 && expected < uint64(chunk.EndByte) {
			res = retryable(res.Bytes, fmt.Errorf("%w at byte %d of %d", ErrShortRead, expected, chunk.EndByte))
		}

		sample := acct.Sample()
		c.publish(sample)
		if c.opts.OnChunk != nil {
			c.opts.OnChunk(ChunkReport{Index: chunk.Index, Attempt: attempt, Result: res, State: c.State(), Sample: sample})
		}
		if res.Outcome != ChunkSuccess && ctx.Err() != nil {
			return res, cancelled(ctx)
		}

		switch res.Outcome {
		case ChunkSuccess:
			c.mu.Lock()
			c.state.ChunksCompleted++
			if chunk.Index > 0 {
				c.state.ChunksRestarted++
			}
			c.mu.Unlock()
			logger.Debug().Msgf("Chunk %d done: %d bytes in %s", chunk.Index, res.Bytes, res.Duration.Round(time.Millisecond))
			return res, nil
		case ChunkFatal:
			return res, &ChunkError{Index: chunk.Index, Result: res}
		default:
			last = res
			logger.Debug().Msgf("Chunk %d attempt %d interrupted after %d bytes", chunk.Index, attempt, res.Bytes)
		}
	}
	return last, fmt.Errorf("%w for chunk %d after %d attempts: %s", ErrRetriesExhausted, chunk.Index, attempts, last.Reason)
}

func (c *Controller) chunkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.ChunkTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.ChunkTimeout)
	}
	return context.WithCancel(ctx)
}

// startSampler publishes samples on the configured cadence until stopped.
func (c *Controller) startSampler(acct *Accountant) func() {
	if c.opts.OnProgress == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.opts.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.publish(acct.Sample())
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (c *Controller) publish(s ProgressSample) {
	if c.opts.OnProgress == nil {
		return
	}
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	c.opts.OnProgress(s)
}

func (c *Controller) fail(logger zerolog.Logger, err error) Outcome {
	c.mu.Lock()
	c.status = StatusFailed
	state := c.state
	c.mu.Unlock()
	reason := err.Error()
	var ce *ChunkError
	if errors.As(err, &ce) {
		reason = ce.Reason()
	}
	if errors.Is(err, ErrCancelled) {
		logger.Warn().Msgf("Transfer cancelled after %d bytes", state.BytesWritten)
	} else {
		logger.Error().Err(err).Msg("Transfer failed")
	}
	return Outcome{Status: StatusFailed, FinalSize: state.BytesWritten, Reason: reason, Err: err, State: state}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
}

// prepareDestination creates the destination and returns how many bytes of
// it are kept.
func prepareDestination(path string, resume bool) (uint64, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, err
		}
	}
	flags := os.O_CREATE | os.O_WRONLY
	if !resume {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}
