package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/argon2"

	"veil/internal/hashing"
	"veil/internal/stealth"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Key management",
}

var keysDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive a stealth master key pair from a passphrase",
	Long: `Derive a stealth master key pair from a passphrase read from stdin.

The master private key is argon2id(passphrase, salt). The same passphrase and salt
always give the same keys.`,
	RunE: runKeysDerive,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysDeriveCmd)
	keysDeriveCmd.Flags().String("salt", "veil-stealth-master", "argon2 salt")
}

// DeriveMasterKey stretches passphrase into a 32-byte master private key.
func DeriveMasterKey(passphrase, salt string) hashing.Digest {
	var key hashing.Digest
	copy(key[:], argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, uint32(len(key))))
	return key
}

func runKeysDerive(cmd *cobra.Command, _ []string) error {
	salt, _ := cmd.Flags().GetString("salt")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	passphrase := strings.TrimRight(line, "\r\n")
	if passphrase == "" {
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		return fmt.Errorf("empty passphrase")
	}
	priv := DeriveMasterKey(passphrase, salt)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "master_private_key: %s\n", hex.EncodeToString(priv[:]))
	fmt.Fprintf(out, "master_public_key:  %s\n", stealth.MasterPublicKey(priv))
	return nil
}
