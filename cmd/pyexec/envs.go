package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var envsCmd = &cobra.Command{
	Use:   "envs",
	Short: "Manage environments from the command line",
}

var envsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List environments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		ids, err := a.envs.List()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var envsDeleteCmd = &cobra.Command{
	Use:   "delete <env_id>",
	Short: "Delete an environment and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		id, err := a.envs.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		return nil
	},
}

func init() {
	envsCmd.AddCommand(envsListCmd, envsDeleteCmd)
}
