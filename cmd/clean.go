package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/catchup/internal/output"
	"github.com/tanq16/catchup/internal/repair"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [DIR]",
		Short: "Remove leftover repair files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.OutputDir
			if len(args) > 0 {
				dir = args[0]
			}
			removed, err := repair.Clean(dir)
			if err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d leftover file(s)", len(removed)))
			return nil
		},
	}
}
