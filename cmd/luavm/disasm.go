package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/speedata/go-lua54vm/chunk"
	"github.com/speedata/go-lua54vm/vm"
)

func newDisasmCommand() *cobra.Command {
	return &cobra.Command{
		Use:                   "disasm FILE",
		Short:                 "print the decoded instructions of a .luac chunk's main function",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			p, err := chunk.Load(f, args[0])
			if err != nil {
				return err
			}
			fmt.Print(vm.Disassemble(p))
			return nil
		},
	}
}
