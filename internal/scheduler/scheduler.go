package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/catchup/internal/archive"
	"github.com/tanq16/catchup/internal/output"
	"github.com/tanq16/catchup/internal/repair"
	"github.com/tanq16/catchup/internal/transfer"
	"github.com/tanq16/catchup/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Reporter receives per-job status; *output.Manager satisfies it.
type Reporter interface {
	Register(name string) int
	SetMessage(id int, message string)
	Progress(id int, s transfer.ProgressSample)
	Warn(id int, message string)
	Complete(id int, message string)
	ReportError(id int, err error)
}

type Repairer interface {
	Repair(ctx context.Context, input string) error
}

type Archiver interface {
	Upload(ctx context.Context, localPath string, progress func(done, total int64)) (archive.Result, error)
}

// Scheduler runs recording jobs through inspect, transfer, repair and
// archive, at most Workers at a time.
type Scheduler struct {
	Client      *utils.CatchupHTTPClient
	Fetcher     transfer.Fetcher
	PlanOptions transfer.PlanOptions
	Options     transfer.Options
	Workers     int
	// Repairer and Archiver may be nil; jobs asking for them then skip the
	// step with a warning.
	Repairer Repairer
	Archiver Archiver
	Reporter Reporter
}

type Result struct {
	Job      utils.RecordingJob
	Outcome  transfer.Outcome
	Repaired bool
	Archive  *archive.Result
	Err      error
}

// Run processes every job and returns one Result per job in input order.
// The returned error summarizes failures; individual jobs never stop others.
func (s *Scheduler) Run(ctx context.Context, jobs []utils.RecordingJob) ([]Result, error) {
	results := make([]Result, len(jobs))
	if s.Client != nil {
		defer s.Client.CloseIdleConnections()
	}
	var g errgroup.Group
	g.SetLimit(max(s.Workers, 1))
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = s.runJob(ctx, job)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d recordings failed", failed, len(jobs))
	}
	return results, nil
}

func (s *Scheduler) runJob(ctx context.Context, job utils.RecordingJob) Result {
	res := Result{Job: job}
	logger := log.With().Str("op", "scheduler/job").Str("job", job.ID).Str("name", job.Name).Logger()
	id := s.Reporter.Register(job.Name)
	fail := func(err error) Result {
		res.Err = err
		s.Reporter.ReportError(id, err)
		logger.Error().Err(err).Msg("Job failed")
		return res
	}

	s.Reporter.SetMessage(id, fmt.Sprintf("Inspecting %s", job.Name))
	info, err := transfer.Inspect(ctx, s.Client, job.URL)
	if err != nil {
		var se *transfer.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return fail(err)
		}
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		logger.Warn().Err(err).Msg("Could not inspect remote, size unknown")
		info = transfer.RemoteInfo{Size: transfer.UnknownSize, AcceptsRanges: true}
	}

	planOpts := s.PlanOptions
	opts := s.Options
	opts.Resume = job.Resume
	if !info.AcceptsRanges {
		logger.Warn().Msg("Server ignores byte ranges, fetching in one piece")
		planOpts = transfer.PlanOptions{ChunkCount: 1, UnknownChunkBytes: planOpts.UnknownChunkBytes}
		opts.Resume = false
	}
	plan, err := transfer.Plan(info.Size, planOpts)
	if err != nil {
		return fail(err)
	}
	opts.OnProgress = func(sample transfer.ProgressSample) {
		s.Reporter.Progress(id, sample)
	}
	onChunk := s.Options.OnChunk
	opts.OnChunk = func(r transfer.ChunkReport) {
		if r.Result.Outcome == transfer.ChunkRetryable {
			s.Reporter.Warn(id, fmt.Sprintf("%s: chunk %d attempt %d failed (%s), reconnecting", job.Name, r.Index+1, r.Attempt, r.Result.Reason))
		} else if r.Result.Outcome == transfer.ChunkSuccess {
			s.Reporter.SetMessage(id, fmt.Sprintf("Recording %s", job.Name))
		}
		if onChunk != nil {
			onChunk(r)
		}
	}

	ctrl := transfer.NewController(s.Fetcher, opts)
	s.Reporter.SetMessage(id, fmt.Sprintf("Recording %s via %s", job.Name, s.Fetcher.Name()))
	logger.Info().Str("transfer", ctrl.ID()).Msgf("Starting transfer of %s to %s", job.URL, job.OutputPath)
	res.Outcome = ctrl.Run(ctx, transfer.Target{
		URL:             job.URL,
		DestinationPath: job.OutputPath,
		ExpectedSize:    plan.Size,
	}, plan)
	if !res.Outcome.Completed() {
		err := res.Outcome.Err
		if err == nil {
			err = errors.New(res.Outcome.Reason)
		}
		return fail(fmt.Errorf("recording stopped at %d%% after %s: %w", ctrl.Progress().Percent, utils.FormatBytes(res.Outcome.FinalSize), err))
	}

	if job.Repair {
		if s.Repairer == nil {
			s.Reporter.Warn(id, fmt.Sprintf("%s: %v, skipping repair", job.Name, repair.ErrFFmpegNotFound))
		} else {
			s.Reporter.SetMessage(id, fmt.Sprintf("Repairing %s", job.Name))
			if err := s.Repairer.Repair(ctx, job.OutputPath); err != nil {
				s.Reporter.Warn(id, fmt.Sprintf("%s: repair failed, original kept: %v", job.Name, err))
			} else {
				res.Repaired = true
			}
		}
	}

	if job.Archive {
		if s.Archiver == nil {
			return fail(archive.ErrNoBucket)
		}
		s.Reporter.SetMessage(id, fmt.Sprintf("Archiving %s", job.Name))
		ar, err := s.Archiver.Upload(ctx, job.OutputPath, func(done, total int64) {
			s.Reporter.SetMessage(id, fmt.Sprintf("Archiving %s %s", job.Name, output.ProgressBar(percentOf(done, total), 20)))
		})
		if err != nil {
			return fail(err)
		}
		res.Archive = &ar
	}

	s.Reporter.Complete(id, fmt.Sprintf("%s: %s", job.Name, output.Summary(res.Outcome)))
	return res
}

func percentOf(done, total int64) uint8 {
	if total <= 0 {
		return 0
	}
	return uint8(min(done*100/total, 100))
}
