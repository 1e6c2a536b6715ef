package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	root := &cobra.Command{
		Use:   "panelcheck",
		Short: "Fidelity-gated webtoon script generation",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBatchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
