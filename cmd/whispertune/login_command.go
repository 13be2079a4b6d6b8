package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Verify the hub token and show the account it belongs to",
		Long: "Resolve a hub token from the config, HF_TOKEN/HUGGING_FACE_HUB_TOKEN, the token file " +
			"or a terminal prompt, and verify it. The token is never written to disk.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.interactiveHub()
			if err != nil {
				return err
			}
			account, err := client.WhoAmI(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in to %s as %s\n", client.Endpoint(), account.Name)
			if len(account.Orgs) > 0 {
				names := make([]string, 0, len(account.Orgs))
				for _, org := range account.Orgs {
					names = append(names, org.Name)
				}
				fmt.Fprintf(out, "Organizations: %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}
}
