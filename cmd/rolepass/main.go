// Command rolepass runs the rolepass authority and gateway and manages the
// authority's accounts, role mappings and signing key.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"git.sr.ht/~jakintosh/rolepass/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "rolepass",
		Short: "Role-aware sign-in authority and gateway",
		Long: `rolepass issues role-bearing tokens to registered applications.

The authority checks credentials and releases a token only to accounts that
hold a role for the requesting application. The gateway runs the PKCE
authorization code flow on behalf of those applications and hands the
resulting tokens over after the redirect.

Settings come from the file given by --config and ROLEPASS_ environment
variables, e.g. ROLEPASS_AUTHORITY_LISTEN=:9000.`,
		PersistentPreRunE: loadConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a yaml, toml or json config file")
	rootCmd.AddCommand(authorityCmd, gatewayCmd, serveCmd, usersCmd, rolesCmd, keysCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loaded.Log.ApplyLogging()
	cfg = loaded
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
