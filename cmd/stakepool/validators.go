package main

import (
	"context"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
)

var vaddCmd = cobra.Command{
	Use:   "vadd [vote account...]",
	Short: "Add validators to the roster",
	Long: "Add validators to the roster. Validators already present are skipped.\n" +
		"Without arguments every current vote account is added.",
	RunE: func(c *cobra.Command, args []string) error {
		validators, err := parseKeys(args)
		if err != nil {
			return err
		}

		return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
			return env.driver.AddValidators(ctx, validators)
		})
	},
}

var vremCandidatesCmd = cobra.Command{
	Use:   "vrem-candidates",
	Short: "List roster validators with no stake slot in use",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, _ []string) error {
		return withEnvironment(c.Context(), func(ctx context.Context, env *environment) error {
			candidates, err := env.driver.RemovalCandidates(ctx)
			if err != nil {
				return err
			}

			for _, candidate := range candidates {
				fmt.Fprintln(c.OutOrStdout(), base58.Encode(candidate))
			}
			return nil
		})
	},
}
