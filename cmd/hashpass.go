package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cabana/internal/bridge"
)

var hashpassCmd = &cobra.Command{
	Use:   "hashpass",
	Short: "Hash an operator password for the bridge config",
	Long: `Reads a password from the terminal and prints its Argon2 hash, for use as
security.operator.password_hash in the bridge configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if len(password) == 0 {
			return fmt.Errorf("password cannot be empty")
		}

		hash, err := bridge.NewPasswordService().HashPassword(string(password))
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		fmt.Println(hash)
		return nil
	},
}
