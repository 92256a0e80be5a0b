package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/boristopalov/vecenv/pkg/vecenv"
)

// newWorkerCmd is the entry point ExecLauncher re-executes the binary with.
// stdout carries the protocol, so everything else goes to stderr.
func newWorkerCmd() *cobra.Command {
	var cfg vecenv.WorkerConfig
	cmd := &cobra.Command{
		Use:    vecenv.WorkerCommand,
		Short:  "Serve one environment over stdin and stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the controller shuts workers down; an interrupt aimed at the
			// process group must not kill them first
			signal.Ignore(os.Interrupt)

			logger := log.New(os.Stderr, fmt.Sprintf("[worker %d] ", cfg.Index), log.LstdFlags)
			return vecenv.RunWorker(context.Background(), cfg, os.Stdin, os.Stdout, logger)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.EnvName, vecenv.FlagEnv, "", "registered environment name")
	flags.IntVar(&cfg.Index, vecenv.FlagIndex, 0, "worker index")
	flags.StringVar(&cfg.ShmPath, vecenv.FlagShm, "", "shared observation buffer file")
	flags.IntVar(&cfg.ShmSlots, vecenv.FlagShmSlots, 0, "slots in the shared buffer")
	flags.IntVar(&cfg.ShmSize, vecenv.FlagShmSize, 0, "float64s per slot")
	cmd.MarkFlagRequired(vecenv.FlagEnv)
	return cmd
}
