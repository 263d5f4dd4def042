package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Create, list, and revoke API keys directly against the key store.

These commands are for operators with access to the database; agents use the
REST API and prove ownership of their pubkey with a signed auth event.`,
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// operatorKeys opens the key store and wraps it in a KeyService that logs to
// stderr at warn level.
func operatorKeys() (*service.KeyService, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	keys := service.NewKeyService(st, logger)
	return keys, func() {
		keys.Wait()
		st.Close()
	}, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name        string
		pubkey      string
		permissions string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key bound to a Nostr pubkey. The raw key is shown once and cannot be retrieved again.",
		Example: `  mcpgate key create --name "shopping agent" --pubkey npub1...
  mcpgate key create --name ci --pubkey 3bf0c63f... --permissions read_write`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, done, err := operatorKeys()
			if err != nil {
				return err
			}
			defer done()

			raw, key, err := keys.CreateKey(cmdContext(), name, pubkey, permissions)
			if err != nil {
				return err
			}
			return printCreatedKey(cmd.OutOrStdout(), raw, key, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&pubkey, "pubkey", "", "Owner pubkey, hex or npub (required)")
	cmd.Flags().StringVar(&permissions, "permissions", model.PermissionRead, "read or read_write")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("pubkey")

	return cmd
}

func printCreatedKey(w io.Writer, raw string, key *model.APIKey, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(w, map[string]interface{}{
			"apiKey":      raw,
			"id":          key.ID,
			"keyPrefix":   key.KeyPrefix,
			"pubkey":      key.Pubkey,
			"permissions": key.Permissions,
		})
	}
	fmt.Fprintln(w, "API Key created:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Key:         %s\n", raw)
	fmt.Fprintf(w, "  ID:          %d\n", key.ID)
	fmt.Fprintf(w, "  Name:        %s\n", key.Name)
	fmt.Fprintf(w, "  Pubkey:      %s\n", key.Pubkey)
	fmt.Fprintf(w, "  Permissions: %s\n", key.Permissions)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		pubkey     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the API keys of a pubkey",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, done, err := operatorKeys()
			if err != nil {
				return err
			}
			defer done()

			list, err := keys.ListKeys(cmdContext(), pubkey)
			if err != nil {
				return err
			}
			return printKeyList(cmd.OutOrStdout(), list, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&pubkey, "pubkey", "", "Owner pubkey, hex or npub (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("pubkey")

	return cmd
}

func printKeyList(w io.Writer, list []model.APIKey, jsonOutput bool) error {
	if jsonOutput {
		if list == nil {
			list = []model.APIKey{}
		}
		return printJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No API keys found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPREFIX\tNAME\tPERMISSIONS\tSTATUS\tLAST USED\tCREATED")
	for _, k := range list {
		status := "active"
		if !k.IsActive {
			status = "revoked"
		}
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.KeyPrefix, k.Name, k.Permissions, status, lastUsed, k.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var (
		id     int64
		pubkey string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key. Revocation is permanent; MCP sessions opened with the key stop working on their next request.",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, done, err := operatorKeys()
			if err != nil {
				return err
			}
			defer done()

			ok, err := keys.RevokeKey(cmdContext(), id, pubkey)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no API key %d owned by %s", id, pubkey)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %d revoked.\n", id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Key ID (required)")
	cmd.Flags().StringVar(&pubkey, "pubkey", "", "Owner pubkey, hex or npub (required)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("pubkey")

	return cmd
}
