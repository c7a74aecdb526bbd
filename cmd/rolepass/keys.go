package main

import (
	"encoding/json"
	"fmt"
	"os"

	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	"github.com/spf13/cobra"
)

var (
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Manage the authority signing key",
	}

	keysGenerateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate an ES256 signing key",
		Long: `Generate a P-256 ECDSA signing key for the authority and print the
public half as a JWKS document. The key is written to --out, or to
authority.signing_key_path when the flag is absent. An existing key is never
replaced unless --force is given.`,
		RunE: keysGenerateMain,
	}

	keyOutPath string
	keyForce   bool
)

func init() {
	keysCmd.AddCommand(keysGenerateCmd)
	keysGenerateCmd.Flags().StringVarP(&keyOutPath, "out", "o", "", "Where to write the PEM encoded private key")
	keysGenerateCmd.Flags().BoolVar(&keyForce, "force", false, "Replace an existing key")
}

func keysGenerateMain(cmd *cobra.Command, args []string) error {
	path := keyOutPath
	if path == "" {
		path = cfg.Authority.SigningKeyPath
	}
	if _, err := os.Stat(path); err == nil && !keyForce {
		return fmt.Errorf("a key already exists at %s; pass --force to replace it", path)
	}

	key, err := tokens.GenerateSigningKey()
	if err != nil {
		return err
	}
	if err := tokens.WriteSigningKey(path, key); err != nil {
		return err
	}
	issuer, err := tokens.NewIssuer(key, cfg.Authority.Issuer)
	if err != nil {
		return err
	}

	jwks, err := json.MarshalIndent(issuer.KeySet(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode jwks: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote signing key %s to %s\n", issuer.KeyID(), path)
	fmt.Fprintln(cmd.OutOrStdout(), string(jwks))
	return nil
}
