package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"git.sr.ht/~jakintosh/rolepass/internal/database"
	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"github.com/spf13/cobra"
)

var (
	usersCmd = &cobra.Command{
		Use:   "users",
		Short: "Manage authority accounts",
	}

	usersAddCmd = &cobra.Command{
		Use:   "add <handle>",
		Short: "Register an account",
		Long: `Register an account with the authority.

The password is taken from --password, or read from the first line of stdin
when the flag is absent. A new account holds no roles; grant one with
"rolepass roles set".`,
		Args: cobra.ExactArgs(1),
		RunE: usersAddMain,
	}

	userPassword string
	userName     string
	userEmail    string
)

func init() {
	usersCmd.AddCommand(usersAddCmd)
	usersAddCmd.Flags().StringVarP(&userPassword, "password", "p", "", "Account password; read from stdin when empty")
	usersAddCmd.Flags().StringVar(&userName, "name", "", "Display name")
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
}

func usersAddMain(cmd *cobra.Command, args []string) error {
	password := userPassword
	if password == "" {
		if stdinIsTerminal() {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		}
		var err error
		password, err = readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	db, err := database.NewSQLiteStore(cmd.Context(), cfg.Authority.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	svc := service.New(service.Config{
		Identities:   db.IdentityStore(),
		PasswordMode: service.PasswordModeProduction,
	})
	account := service.Account{
		Handle: args[0],
		Name:   userName,
		Email:  userEmail,
	}
	if err := svc.Register(cmd.Context(), account, password); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", account.Handle)
	return nil
}

func readPassword(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return "", errors.New("password is required")
	}
	password := strings.TrimRight(scanner.Text(), "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

// stdinIsTerminal reports whether stdin is attached to a terminal.
func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
