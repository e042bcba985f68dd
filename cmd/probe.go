package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/output"
	"github.com/tanq16/catchup/internal/transfer"
	"github.com/tanq16/catchup/internal/utils"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe URL",
		Short: "Show size, range support and the chunk plan for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := utils.NewCatchupHTTPClient(httpConfig())
			fetcher, err := transfer.Probe(transfer.ProbeOptions{Backend: cfg.Transport, Client: client, LimitBps: cfg.LimitRate})
			if err != nil {
				return err
			}
			info, err := transfer.Inspect(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			plan, err := transfer.Plan(info.Size, cfg.PlanOptions())
			if err != nil {
				return err
			}
			output.PrintHeader("Remote")
			if info.Size >= 0 {
				output.PrintDetail("Size", utils.FormatBytes(uint64(info.Size)))
			} else {
				output.PrintDetail("Size", "unknown")
			}
			output.PrintDetail("Ranges", fmt.Sprint(info.AcceptsRanges))
			if info.Filename != "" {
				output.PrintDetail("Filename", info.Filename)
			}
			output.PrintDetail("Transport", fetcher.Name())
			output.PrintHeader(fmt.Sprintf("Plan (%d chunks)", len(plan.Chunks)))
			for _, c := range plan.Chunks {
				if plan.SizeKnown() {
					output.PrintDetail(fmt.Sprintf("%3d", c.Index+1), fmt.Sprintf("%d%%-%d%% bytes %d-%d", c.StartPercent, c.EndPercent, c.StartByte, c.EndByte))
				} else if c.Limit > 0 {
					output.PrintDetail(fmt.Sprintf("%3d", c.Index+1), "up to "+utils.FormatBytes(uint64(c.Limit)))
				} else {
					output.PrintDetail(fmt.Sprintf("%3d", c.Index+1), "until end of stream")
				}
			}
			return nil
		},
	}
}
