package cmd

import (
	"fmt"

	"github.com/gregriff/duet/internal/crypto"
	"github.com/spf13/cobra"
)

// hashPasswordCmd represents the hash-password command.
var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash to use as access.password-hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hashed, err := crypto.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("error hashing password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hashed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
