package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/archive"
	"github.com/tanq16/catchup/internal/catchup"
	"github.com/tanq16/catchup/internal/output"
	"github.com/tanq16/catchup/internal/repair"
	"github.com/tanq16/catchup/internal/scheduler"
	"github.com/tanq16/catchup/internal/transfer"
	"github.com/tanq16/catchup/internal/utils"
)

// programme is one catchup request as given on the command line or in a
// batch file.
type programme struct {
	StreamID string
	Name     string
	Date     string
	Clock    string
	Duration int
}

func (p programme) recording(now time.Time) (catchup.Recording, error) {
	day, err := catchup.ParseDate(p.Date, now)
	if err != nil {
		return catchup.Recording{}, err
	}
	hour, minute, err := catchup.ParseClock(p.Clock)
	if err != nil {
		return catchup.Recording{}, err
	}
	name := p.Name
	if name == "" {
		name = p.StreamID
	}
	duration := p.Duration
	if duration == 0 {
		duration = catchup.DefaultDuration
	}
	return catchup.Recording{
		StreamID: p.StreamID,
		Name:     name,
		Start:    catchup.StartTime(day, hour, minute),
		Duration: duration,
	}, nil
}

func newBuilder() (*catchup.Builder, error) {
	if err := cfg.ValidateProvider(); err != nil {
		return nil, err
	}
	return catchup.NewBuilder(cfg.ArchiveBase, cfg.Username, cfg.Password)
}

// outputPathFor places name in the output directory. Existing files are
// kept when resuming and otherwise get a numbered sibling.
func outputPathFor(name string, resume bool) string {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.OutputDir, path)
	}
	if _, err := os.Stat(path); err == nil && !resume {
		path = utils.RenewOutputPath(path)
	}
	return path
}

func newJob(name, link, path string, resume bool) utils.RecordingJob {
	return utils.RecordingJob{
		ID:         uuid.New().String(),
		Name:       name,
		URL:        link,
		OutputPath: path,
		Resume:     resume,
		Repair:     cfg.Repair,
		Archive:    archiveFlag || cfg.Archive.Enabled(),
	}
}

func buildScheduler(ctx context.Context, reporter scheduler.Reporter, jobs []utils.RecordingJob) (*scheduler.Scheduler, error) {
	client := utils.NewCatchupHTTPClient(httpConfig())
	fetcher, err := transfer.Probe(transfer.ProbeOptions{
		Backend:  cfg.Transport,
		Client:   client,
		LimitBps: cfg.LimitRate,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("op", "cmd/jobs").Msgf("Using %s transport", fetcher.Name())
	s := &scheduler.Scheduler{
		Client:      client,
		Fetcher:     fetcher,
		PlanOptions: cfg.PlanOptions(),
		Options:     cfg.TransferOptions(),
		Workers:     cfg.Workers,
		Reporter:    reporter,
	}
	if cfg.Repair {
		if r, err := repair.New(); err == nil {
			s.Repairer = r
		} else {
			log.Warn().Str("op", "cmd/jobs").Err(err).Msg("Recordings will not be repaired")
		}
	}
	for _, job := range jobs {
		if job.Archive {
			a, err := archive.New(ctx, cfg.Archive)
			if err != nil {
				return nil, err
			}
			s.Archiver = a
			break
		}
	}
	return s, nil
}

// runJobs records every job behind the live display. Logs go to a file
// while the display owns the terminal.
func runJobs(cmd *cobra.Command, jobs []utils.RecordingJob) error {
	if len(jobs) == 0 {
		return errors.New("no recordings to run")
	}
	mgr := output.NewManager()
	path := logFile
	if path == "" && output.IsTerminal() {
		path = filepath.Join(cfg.OutputDir, utils.LogFile)
	}
	if path != "" {
		restore, err := logToFile(path)
		if err != nil {
			return err
		}
		defer restore()
	}

	s, err := buildScheduler(cmd.Context(), mgr, jobs)
	if err != nil {
		return err
	}
	mgr.StartDisplay()
	_, err = s.Run(cmd.Context(), jobs)
	mgr.StopDisplay()
	if cmd.Context().Err() != nil {
		output.PrintWarning("Interrupted; rerun with --resume to continue partial recordings")
	}
	return err
}

// logToFile sends logs to path until the returned func closes the file and
// puts logging back on stderr.
func logToFile(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating log directory: %v", err)
	}
	closer, err := utils.InitFileLogger(path, debug)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %v", err)
	}
	return func() {
		utils.InitLogger(debug)
		closer.Close()
	}, nil
}
