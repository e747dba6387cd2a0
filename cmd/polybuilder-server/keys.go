package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polybuilder/polybuilder/internal/auth"
	"github.com/polybuilder/polybuilder/internal/config"
	"github.com/polybuilder/polybuilder/internal/storage"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	cmd.AddCommand(newKeysCreateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysRevokeCmd())

	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var name, outputFile string
	var quiet, show bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create an API key for the compile, deploy, verify, pipeline and
analyze endpoints. The key is shown only once.

EXAMPLES:
  # Write to ./polybuilder-key-ci.txt
  polybuilder-server keys create --name ci

  # Pipe to a secrets manager
  polybuilder-server keys create --name ci --quiet | gh secret set POLYBUILDER_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), true, func(ctx context.Context, store storage.Store) error {
				key, err := store.CreateAPIKey(ctx, name)
				if err != nil {
					return fmt.Errorf("creating API key: %w", err)
				}
				return printKey(cmd, name, key, outputFile, quiet, show)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name/label for the key (required)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write key to file (default: ./polybuilder-key-{name}.txt)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the key (for piping)")
	cmd.Flags().BoolVar(&show, "show", false, "display key on screen")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func printKey(cmd *cobra.Command, name, key, outputFile string, quiet, show bool) error {
	out := cmd.OutOrStdout()
	switch {
	case quiet:
		fmt.Fprintln(out, key)
		return nil
	case show:
		fmt.Fprintln(out, "⚠️  API key (save this - it cannot be retrieved later):")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "   ", key)
		return nil
	}

	if outputFile == "" {
		outputFile = fmt.Sprintf("./polybuilder-key-%s.txt", name)
	}
	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if err := os.WriteFile(outputFile, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Fprintf(out, "✅ API key created: %s (%s)\n", name, auth.Mask(key))
	fmt.Fprintf(out, "   Written to: %s (mode 0600)\n\n", outputFile)
	fmt.Fprintln(out, "   Usage:")
	fmt.Fprintf(out, "     export POLYBUILDER_API_KEY=$(cat %s)\n", outputFile)
	fmt.Fprintln(out, "     polybuilder deploy contracts/Token.sol --network amoy")
	return nil
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), false, func(ctx context.Context, store storage.Store) error {
				keys, err := store.ListAPIKeys(ctx)
				if err != nil {
					return fmt.Errorf("listing API keys: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(keys) == 0 {
					fmt.Fprintln(out, "No API keys found")
					fmt.Fprintln(out, "Create one with: polybuilder-server keys create --name \"my-key\"")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST USED")
				for _, k := range keys {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(k.ID), k.Name, k.CreatedAt, orDefault(k.LastUsedAt, "never"))
				}
				return w.Flush()
			})
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long: `Revoke an API key. The ID may be the 8 character prefix shown by
'polybuilder-server keys list'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), false, func(ctx context.Context, store storage.Store) error {
				keys, err := store.ListAPIKeys(ctx)
				if err != nil {
					return fmt.Errorf("listing API keys: %w", err)
				}
				id, err := matchKeyID(keys, keyID)
				if err != nil {
					return err
				}
				if err := store.RevokeAPIKey(ctx, id); err != nil {
					return fmt.Errorf("revoking API key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ API key revoked: %s\n", shortID(id))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "key ID or ID prefix to revoke (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// matchKeyID resolves a full ID or an unambiguous prefix of at least 8 characters.
func matchKeyID(keys []storage.APIKey, id string) (string, error) {
	var found []string
	for _, k := range keys {
		if k.ID == id {
			return k.ID, nil
		}
		if len(id) >= 8 && strings.HasPrefix(k.ID, id) {
			found = append(found, k.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("key not found: %s", id)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("key prefix %s is ambiguous", id)
	}
}

// withStore opens storage quietly for one-shot admin commands.
func withStore(ctx context.Context, migrate bool, fn func(context.Context, storage.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	return fn(ctx, store)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDefault(s, empty string) string {
	if s == "" {
		return empty
	}
	return s
}
