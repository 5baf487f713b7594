// Command ilp-node boots an ILP connector: a store-backed pipeline of
// incoming/outgoing services wired to the BTP and ILP-over-HTTP
// transports, plus the CCP route-broadcast and settlement background
// tasks (spec.md §2, §6).
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{Use: "ilp-node"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(routeCmd())
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("ilp-node: command failed")
		os.Exit(1)
	}
}
