package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/speedata/go-lua54vm/runner"
)

func newBatchCommand() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:                   "batch FILE [FILE...]",
		Short:                 "run multiple .luac chunks concurrently and report the first error",
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := runner.Batch(cmd.Context(), args, limit)
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("%s\tFAILED\t%v\n", r.File, r.Err)
					continue
				}
				fmt.Printf("%s\tOK\t%d result value(s)\n", r.File, len(r.Values))
			}
			return err
		},
	}
	c.Flags().IntVar(&limit, "parallel", 4, "maximum number of chunks to run concurrently")
	return c
}
