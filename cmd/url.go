package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/catchup"
	"github.com/tanq16/catchup/internal/output"
)

func addProgrammeFlags(cmd *cobra.Command, p *programme) {
	cmd.Flags().StringVar(&p.Date, "date", "today", "Day of the programme: YYYY-MM-DD, today, yesterday, -N or a weekday")
	cmd.Flags().StringVar(&p.Clock, "time", "", "Guide start time (HHMM or HH:MM, 24h)")
	cmd.Flags().IntVarP(&p.Duration, "duration", "m", catchup.DefaultDuration, "Duration in minutes")
	cmd.Flags().StringVar(&p.Name, "name", "", "Channel name used for the file name (defaults to the stream id)")
	cmd.MarkFlagRequired("time")
}

func newURLCmd() *cobra.Command {
	var p programme
	var copyLink bool
	var showCredentials bool

	cmd := &cobra.Command{
		Use:   "url STREAM_ID --time HH:MM [--date DAY] [--duration MIN]",
		Short: "Print the catchup URL for a programme",
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
			shown := b.Redact(link.URL)
			if showCredentials || copyLink {
				shown = link.URL
			}
			output.PrintHeader(rec.Name)
			output.PrintDetail("Start", rec.Start.Format("Mon 2006-01-02 15:04"))
			if link.BSTAdjusted {
				output.PrintDetail("Server start", link.ServerStart.Format("15:04")+" (BST adjusted)")
			}
			output.PrintDetail("Duration", (time.Duration(rec.Duration) * time.Minute).String())
			output.PrintDetail("File", catchup.DefaultFilename(rec.Name, rec.Start))
			output.PrintDetail("URL", shown)
			if copyLink {
				if err := catchup.CopyToClipboard(cmd.Context(), link.URL); err != nil {
					output.PrintWarning(err.Error())
					return nil
				}
				output.PrintSuccess("Copied to clipboard")
			}
			return nil
		},
	}
	addProgrammeFlags(cmd, &p)
	cmd.Flags().BoolVar(&copyLink, "copy", false, "Copy the URL to the clipboard")
	cmd.Flags().BoolVar(&showCredentials, "show-credentials", false, "Print the URL without redacting credentials")
	return cmd
}
