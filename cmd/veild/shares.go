package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"veil/internal/hashing"
	"veil/internal/sharing"
)

var sharesCmd = &cobra.Command{
	Use:   "shares",
	Short: "Split and reconstruct 32-byte secrets",
}

var sharesSplitCmd = &cobra.Command{
	Use:   "split <secret-hex>",
	Short: "Split a secret into shares",
	Args:  cobra.ExactArgs(1),
	RunE:  runSharesSplit,
}

var sharesReconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Reconstruct a secret from JSON shares read from stdin",
	RunE:  runSharesReconstruct,
}

func init() {
	rootCmd.AddCommand(sharesCmd)
	sharesCmd.AddCommand(sharesSplitCmd, sharesReconstructCmd)
	sharesSplitCmd.Flags().Uint8("threshold", 2, "shares needed to reconstruct")
	sharesSplitCmd.Flags().Uint8("total", 3, "shares to produce")
	sharesReconstructCmd.Flags().Uint8("threshold", 2, "shares needed to reconstruct")
}

func runSharesSplit(cmd *cobra.Command, args []string) error {
	threshold, _ := cmd.Flags().GetUint8("threshold")
	total, _ := cmd.Flags().GetUint8("total")
	secret, err := hashing.ParseDigest(args[0])
	if err != nil {
		return fmt.Errorf("invalid secret: %w", err)
	}
	shares, err := sharing.Split(secret, threshold, total)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(shares)
}

func runSharesReconstruct(cmd *cobra.Command, _ []string) error {
	threshold, _ := cmd.Flags().GetUint8("threshold")
	var shares []sharing.Share
	if err := json.NewDecoder(cmd.InOrStdin()).Decode(&shares); err != nil {
		return fmt.Errorf("failed to decode shares: %w", err)
	}
	secret, err := sharing.Reconstruct(shares, threshold)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), secret)
	return nil
}
