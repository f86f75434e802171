package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/speedata/go-lua54vm/chunk"
	"github.com/speedata/go-lua54vm/vm"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:                   "run FILE",
		Short:                 "load a .luac chunk and run its main function",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChunk(cmd.Context(), args[0])
		},
	}
}

func runChunk(ctx context.Context, file string) error {
	runID := uuid.New().String()
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := chunk.Load(f, file)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	s := vm.NewState(p)
	s.IncDepth()
	s.CheckStack(p.MaxStackSize)
	s.SetTop(p.MaxStackSize)
	log.Debugf(ctx, "run %s: depth=%d executing %s (%d instructions)", runID, s.Depth(), file, len(p.Code))
	if err := vm.Exec(s); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	for i := 0; i < s.GetTop(); i++ {
		v, err := s.GetReg(i)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		fmt.Printf("[%d]\t%s\t%s\n", i, v.Kind(), v)
	}
	return nil
}
