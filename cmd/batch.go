package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/catchup"
	"github.com/tanq16/catchup/internal/output"
	"github.com/tanq16/catchup/internal/utils"
	"gopkg.in/yaml.v3"
)

func newBatchCmd() *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "batch YAML_FILE",
		Short: "Record multiple programmes or links from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			jobs, err := buildJobsFromBatch(entries, resume, time.Now())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return errors.New("no valid jobs found in the batch file")
			}
			return runJobs(cmd, jobs)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue partial recordings instead of starting over")
	return cmd
}

func readBatchFile(path string) ([]utils.BatchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []utils.BatchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	return entries, nil
}

// buildJobsFromBatch turns entries into jobs. Entries with a link are taken
// as is; the rest are built into catchup URLs. Invalid entries are skipped
// with a warning.
func buildJobsFromBatch(entries []utils.BatchEntry, resume bool, now time.Time) ([]utils.RecordingJob, error) {
	var b *catchup.Builder
	var jobs []utils.RecordingJob
	for i, entry := range entries {
		if entry.Link != "" {
			name := entry.Name
			if name == "" {
				name = fmt.Sprintf("link-%d", i+1)
			}
			file := entry.OutputPath
			if file == "" {
				file = catchup.CustomFilename(name)
			}
			jobs = append(jobs, newJob(name, entry.Link, outputPathFor(file, resume), resume))
			continue
		}
		if entry.StreamID == "" {
			output.PrintWarning(fmt.Sprintf("Entry %d has neither link nor stream, skipping", i+1))
			continue
		}
		if b == nil {
			var err error
			if b, err = newBuilder(); err != nil {
				return nil, err
			}
		}
		p := programme{StreamID: entry.StreamID, Name: entry.Name, Date: entry.Date, Clock: entry.Time, Duration: entry.Duration}
		rec, err := p.recording(now)
		if err != nil {
			output.PrintWarning(fmt.Sprintf("Entry %d: %v, skipping", i+1, err))
			continue
		}
		link, err := b.Build(rec)
		if err != nil {
			output.PrintWarning(fmt.Sprintf("Entry %d: %v, skipping", i+1, err))
			continue
		}
		file := catchup.DefaultFilename(rec.Name, rec.Start)
		if entry.OutputPath != "" {
			file = catchup.CustomFilename(entry.OutputPath)
		}
		log.Debug().Str("op", "cmd/batch").Msgf("Entry %d resolved to %s", i+1, b.Redact(link.URL))
		jobs = append(jobs, newJob(rec.Name, link.URL, outputPathFor(file, resume), resume))
	}
	return jobs, nil
}
