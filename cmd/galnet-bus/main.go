// Command galnet-bus dispatches to the module's daemon subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/galnet-eddn/bus/cmd/bouncer"
	"github.com/galnet-eddn/bus/cmd/gateway"
	"github.com/galnet-eddn/bus/cmd/monitor"
	"github.com/galnet-eddn/bus/cmd/relay"
	"github.com/galnet-eddn/bus/cmd/serve"
)

func dispatch(name string, mainFunc func([]string)) *cobra.Command {
	return &cobra.Command{
		Use:                name,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mainFunc(args)
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "galnet-bus",
		Short:         "Game telemetry upload, relay, buffering and accounting daemons",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		dispatch("gateway", gateway.Main),
		dispatch("relay", relay.Main),
		dispatch("bouncer", bouncer.Main),
		dispatch("monitor", monitor.Main),
		dispatch("serve", serve.Main),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
