package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chunkstore/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate and hash API tokens",
	}
	cmd.AddCommand(newTokenGenerateCmd(), newTokenHashCmd())
	return cmd
}

func newTokenGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Print a new random token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			return writePlain("%s\n", token)
		},
	}
}

func newTokenHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [token]",
		Short: "Print a bcrypt hash of a token (reads stdin when omitted)",
		Long: "Print a bcrypt hash of a token.\n\n" +
			"Set CHUNKSTORE_API_TOKEN or CHUNKSTORE_ADMIN_TOKEN on the server to the hash;\n" +
			"clients keep sending the plaintext token.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = line
			}
			hash, err := auth.HashToken(strings.TrimSpace(token))
			if err != nil {
				return err
			}
			return writePlain("%s\n", hash)
		},
	}
}
