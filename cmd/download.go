package cmd

import (
	"fmt"
	u "net/url"
	"path"

	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/catchup"
	"github.com/tanq16/catchup/internal/utils"
)

func newDownloadCmd() *cobra.Command {
	var outputName string
	var resume bool

	cmd := &cobra.Command{
		Use:   "download URL [--output FILE]",
		Short: "Download a stream URL with chunked reconnects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link := args[0]
			parsed, err := u.ParseRequestURI(link)
			if err != nil || parsed.Host == "" {
				return fmt.Errorf("invalid URL format: %s", link)
			}
			name := outputName
			if name == "" {
				name = path.Base(parsed.Path)
			}
			if name == "" || name == "/" || name == "." {
				name = "stream"
			}
			name = catchup.CustomFilename(name)
			job := newJob(name, link, outputPathFor(name, resume), resume)
			return runJobs(cmd, []utils.RecordingJob{job})
		},
	}
	cmd.Flags().StringVarP(&outputName, "output", "o", "", "Output file name")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue a partial download instead of starting over")
	return cmd
}
