package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/catchup"
	"github.com/tanq16/catchup/internal/utils"
)

func newRecordCmd() *cobra.Command {
	var p programme
	var outputName string
	var resume bool

	cmd := &cobra.Command{
		Use:   "record STREAM_ID --time HH:MM [--date DAY] [--duration MIN] [--output FILE]",
		Short: "Record a catchup programme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.StreamID = args[0]
			rec, err := p.recording(time.Now())
			if err != nil {
				return err
			}
			b, err := newBuilder()
			if err != nil {
				return err
			}
			link, err := b.Build(rec)
			if err != nil {
				return err
			}
			name := catchup.DefaultFilename(rec.Name, rec.Start)
			if outputName != "" {
				name = catchup.CustomFilename(outputName)
			}
			job := newJob(rec.Name, link.URL, outputPathFor(name, resume), resume)
			return runJobs(cmd, []utils.RecordingJob{job})
		},
	}
	addProgrammeFlags(cmd, &p)
	cmd.Flags().StringVarP(&outputName, "output", "o", "", "Output file name")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue a partial recording instead of starting over")
	return cmd
}
