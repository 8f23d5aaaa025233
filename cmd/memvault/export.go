package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <user-id>",
		Short: "Export a user's vault to a msgpack snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			ctx := context.Background()

			app, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			payload, err := app.export.ExportUserData(ctx, userID)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			if output == "" || output == "-" {
				_, err = os.Stdout.Write(payload)
				return err
			}
			if err := os.WriteFile(output, payload, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(os.Stderr, "Exported %d bytes to %s\n", len(payload), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <user-id> <snapshot-file>",
		Short: "Restore a user's vault from a msgpack snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, path := args[0], args[1]
			ctx := context.Background()

			payload, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			app, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			restored, err := app.export.ImportUserData(ctx, userID, payload)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Restored %d memories for user %s\n", restored, userID)
			return nil
		},
	}
}

func deleteUserCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete-user <user-id>",
		Short: "Delete every trace of a user across all memory tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			if !confirm {
				return fmt.Errorf("refusing to delete user %s without --yes", userID)
			}
			ctx := context.Background()

			app, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			if _, err := app.registry.InitializeVault(userID, nil); err != nil {
				return err
			}
			if err := app.registry.DeleteUserData(ctx, userID); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Deleted all data for user %s\n", userID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm deletion")
	return cmd
}
