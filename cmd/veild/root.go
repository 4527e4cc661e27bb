package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.4.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "veild",
	Short: "Privacy protocol daemon",
	Long: `veild serves stealth addresses, ring signatures, the note mixer, confidential
transactions, decoy routing, secret sharing and quantum-resistant vaults over HTTP.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "veil.yaml", "config file")
}
