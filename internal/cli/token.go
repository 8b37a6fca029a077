package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vietddude/fleetcall/internal/control"
)

var showToken bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch a credential and print its expiry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			cred, err := c.Credential(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if showToken {
				_, _ = fmt.Fprintln(out, cred.Token)
				return nil
			}
			_, _ = fmt.Fprintf(out, "issued:  %s\nexpires: %s\n", cred.IssuedAt.Format("2006-01-02 15:04:05"), cred.ExpiresAt.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&showToken, "show", false, "print the raw token")
	rootCmd.AddCommand(tokenCmd)
}
