package main

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/shelfsync/shelfsync/internal/cli"
	"github.com/shelfsync/shelfsync/internal/model"
)

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage manual identifier-to-entity mappings",
	}

	cmd.AddCommand(mappingsListCmd())
	cmd.AddCommand(mappingsAddCmd())
	cmd.AddCommand(mappingsDeactivateCmd())

	return cmd
}

func mappingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all manual mappings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			mappings, err := store.ListManualMappings(ctx)
			if err != nil {
				return fmt.Errorf("failed to list mappings: %w", err)
			}

			if len(mappings) == 0 {
				fmt.Println(cli.SubtleStyle.Render("no manual mappings"))
				return nil
			}

			rows := make([][]string, 0, len(mappings))
			for _, m := range mappings {
				status := cli.FormatSuccess("active")
				if !m.Active {
					status = cli.SubtleStyle.Render("inactive")
				}
				rows = append(rows, []string{
					m.ID,
					m.SourceIdentifier,
					string(m.EntityType),
					m.EntityID,
					status,
					m.CreatedBy,
				})
			}

			fmt.Println(cli.RenderTable([]string{"ID", "IDENTIFIER", "TYPE", "ENTITY", "STATUS", "CREATED BY"}, rows))
			return nil
		},
	}
}

func mappingsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Map an external identifier to a catalog entity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			identifier, _ := cmd.Flags().GetString("identifier")
			entityType, _ := cmd.Flags().GetString("entity-type")
			entityID, _ := cmd.Flags().GetString("entity-id")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			mapping := &model.ManualMapping{
				SourceIdentifier: identifier,
				EntityType:       model.EntityType(entityType),
				EntityID:         entityID,
				Active:           true,
				CreatedBy:        currentUser(),
			}
			if err := store.CreateManualMapping(ctx, mapping); err != nil {
				return fmt.Errorf("failed to create mapping: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("mapped %q -> %s %s (id %s)",
				identifier, entityType, entityID, mapping.ID)))
			return nil
		},
	}

	cmd.Flags().String("identifier", "", "external identifier to map (required)")
	cmd.Flags().String("entity-type", "", "target entity type: node or product (required)")
	cmd.Flags().String("entity-id", "", "target entity id (required)")
	_ = cmd.MarkFlagRequired("identifier")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("entity-id")

	return cmd
}

func mappingsDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <mapping-id>",
		Short: "Deactivate a manual mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeactivateManualMapping(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to deactivate mapping: %w", err)
			}

			fmt.Println(cli.FormatSuccess("mapping deactivated"))
			return nil
		},
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
