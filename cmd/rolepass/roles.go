package main

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"git.sr.ht/~jakintosh/rolepass/internal/database"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rolesCmd = &cobra.Command{
		Use:   "roles",
		Short: "Manage the role each account holds per application",
		Long: `Manage the role mappings stored in the authority database.

An account signs in to an application only when it holds a role for that
application's client id. These commands edit the database mappings; when
authority.roles.source is "file" the authority reads the role file instead.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, args); err != nil {
				return err
			}
			if cfg.Authority.Roles.Source == "file" {
				log.Warnf("authority reads roles from %s; database mappings are ignored", cfg.Authority.Roles.File)
			}
			return nil
		},
	}

	rolesSetCmd = &cobra.Command{
		Use:   "set <handle> <client-id> <role>",
		Short: "Grant or replace an account's role for an application",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(db *database.SQLiteStore) error {
				if err := db.SetRole(cmd.Context(), args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s on %s\n", args[0], args[2], args[1])
				return nil
			})
		},
	}

	rolesRmCmd = &cobra.Command{
		Use:   "rm <handle> <client-id>",
		Short: "Remove an account's role for an application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(db *database.SQLiteStore) error {
				removed, err := db.DeleteRole(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%s has no role on %s", args[0], args[1])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[0], args[1])
				return nil
			})
		},
	}

	rolesLsCmd = &cobra.Command{
		Use:   "ls <handle>",
		Short: "List an account's roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(db *database.SQLiteStore) error {
				mapping, err := db.ListRoles(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "CLIENT\tROLE")
				for _, clientID := range slices.Sorted(maps.Keys(mapping)) {
					fmt.Fprintf(w, "%s\t%s\n", clientID, mapping[clientID])
				}
				return w.Flush()
			})
		},
	}
)

func init() {
	rolesCmd.AddCommand(rolesSetCmd, rolesRmCmd, rolesLsCmd)
}

func withDatabase(
	cmd *cobra.Command,
	fn func(db *database.SQLiteStore) error,
) error {
	db, err := database.NewSQLiteStore(cmd.Context(), cfg.Authority.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(db)
}
