package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/catchup/internal/utils"
)

const defaultWgetPoll = 250 * time.Millisecond

var wgetStatusPattern = regexp.MustCompile(`ERROR (\d{3})`)

// WgetFetcher drives an external wget process per attempt. wget appends to
// the destination with --continue; the chunk boundary is enforced by
// watching the file grow and stopping the process once it is reached.
type WgetFetcher struct {
	path     string
	cfg      utils.HTTPClientConfig
	limitBps int64
	poll     time.Duration
}

func NewWgetFetcher(path string, cfg utils.HTTPClientConfig, limitBps int64) *WgetFetcher {
	return &WgetFetcher{
		path:     path,
		cfg:      cfg,
		limitBps: limitBps,
		poll:     defaultWgetPoll,
	}
}

func (f *WgetFetcher) Name() string {
	return BackendWget
}

func (f *WgetFetcher) Fetch(ctx context.Context, r FetchRequest) ChunkResult {
	start := time.Now()
	res := f.fetch(ctx, r)
	res.Duration = time.Since(start)
	return res
}

func (f *WgetFetcher) args(r FetchRequest) []string {
	timeout := int(f.cfg.Timeout.Seconds())
	if timeout <= 0 {
		timeout = 60
	}
	ua := f.cfg.UserAgent
	if ua == "" {
		ua = utils.ToolUserAgent
	}
	args := []string{
		"--continue",
		"--no-verbose",
		"--tries=1",
		fmt.Sprintf("--timeout=%d", timeout),
		"--user-agent=" + ua,
	}
	for _, k := range slices.Sorted(maps.Keys(f.cfg.Headers)) {
		args = append(args, fmt.Sprintf("--header=%s: %s", k, f.cfg.Headers[k]))
	}
	if f.limitBps > 0 {
		args = append(args, fmt.Sprintf("--limit-rate=%d", f.limitBps))
	}
	return append(args, "-O", r.Target.DestinationPath, r.Target.URL)
}

func (f *WgetFetcher) fetch(ctx context.Context, r FetchRequest) ChunkResult {
	stop := r.stopAt()
	if stop >= 0 && int64(r.Offset) >= stop {
		return success(0, false)
	}
	current, err := sizeOrZero(r.Target.DestinationPath)
	if err != nil {
		return fatal(0, fmt.Errorf("error reading output file: %w", err))
	}
	if current != r.Offset {
		return fatal(0, fmt.Errorf("%w: file holds %d bytes, resume requested at %d", ErrOffsetMismatch, current, r.Offset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmd := exec.CommandContext(runCtx, f.path, f.args(r)...)
	cmd.Env = append(os.Environ(), f.cfg.ProxyEnv()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Debug().Str("op", "transfer/wget-fetcher").Msgf("starting wget for chunk %d at byte %d", r.Chunk.Index, r.Offset)
	if err := cmd.Start(); err != nil {
		return fatal(0, fmt.Errorf("error starting wget: %w", err))
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	reported := r.Offset
	boundaryHit := false
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()
	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker.C:
			size, err := sizeOrZero(r.Target.DestinationPath)
			if err != nil {
				continue
			}
			reportGrowth(r, &reported, size, stop)
			if stop >= 0 && size >= uint64(stop) && !boundaryHit {
				boundaryHit = true
				cancel()
			}
		}
	}

	final, err := settleFile(r.Target.DestinationPath, stop)
	if err != nil {
		return fatal(0, fmt.Errorf("error finalizing output file: %w", err))
	}
	if final < r.Offset {
		return fatal(0, fmt.Errorf("%w: file shrank to %d bytes below offset %d", ErrOffsetMismatch, final, r.Offset))
	}
	reportGrowth(r, &reported, final, stop)
	written := final - r.Offset

	if ctx.Err() != nil {
		return retryable(written, ctx.Err())
	}
	if boundaryHit || (stop >= 0 && final >= uint64(stop)) {
		return success(written, false)
	}
	if waitErr == nil {
		return finishRead(r, written)
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	return classifyWgetExit(code, stderr.String(), written)
}

// reportGrowth meters bytes appended since the last poll, never past stop.
func reportGrowth(r FetchRequest, reported *uint64, size uint64, stop int64) {
	if stop >= 0 && size > uint64(stop) {
		size = uint64(stop)
	}
	if size > *reported {
		r.meter(int(size - *reported))
		*reported = size
	}
}

// settleFile trims any overshoot past stop and flushes the file.
func settleFile(path string, stop int64) (uint64, error) {
	size, err := sizeOrZero(path)
	if err != nil {
		return 0, err
	}
	if stop >= 0 && size > uint64(stop) {
		if err := os.Truncate(path, stop); err != nil {
			return 0, err
		}
		size = uint64(stop)
	}
	if size == 0 {
		return 0, nil
	}
	fh, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer fh.Close()
	return size, fh.Sync()
}

func sizeOrZero(path string) (uint64, error) {
	size, err := fileSize(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return size, err
}

// classifyWgetExit maps wget's documented exit statuses onto chunk outcomes.
func classifyWgetExit(code int, stderr string, written uint64) ChunkResult {
	msg := lastLine(stderr)
	if strings.Contains(stderr, "conflicts with") {
		return fatal(written, fmt.Errorf("%w: %s", ErrOffsetMismatch, msg))
	}
	switch code {
	case 8:
		if m := wgetStatusPattern.FindStringSubmatch(stderr); m != nil {
			if status, err := strconv.Atoi(m[1]); err == nil {
				return classifyStatus(written, newStatusError(status, ""))
			}
		}
		return retryable(written, fmt.Errorf("wget: server error response: %s", msg))
	case 4, 7:
		return retryable(written, fmt.Errorf("wget: network failure: %s", msg))
	case 3:
		return fatal(written, fmt.Errorf("wget: file I/O error: %s", msg))
	case 2:
		return fatal(written, fmt.Errorf("wget: parse error: %s", msg))
	case 5:
		return fatal(written, fmt.Errorf("wget: SSL verification failure: %s", msg))
	case 6:
		return fatal(written, fmt.Errorf("wget: authentication failure: %s", msg))
	default:
		return retryable(written, fmt.Errorf("wget exited with status %d: %s", code, msg))
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
