package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "pos-terminal-bridge",
		Short:   "Payment terminal and receipt printer bridge for the register",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("addr", "", "address of a running bridge (default http://127.0.0.1:$POS_SERVICE_PORT)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(unpairCmd())
	rootCmd.AddCommand(purchaseCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
