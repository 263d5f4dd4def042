package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plebmarket/mcpgate/internal/nostrauth"
)

func newKeygenCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a Nostr keypair",
		Long:  "Generate a fresh secp256k1 keypair for an agent identity. Nothing is stored; keep the nsec safe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := nostrauth.GenerateKeyPair()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), kp)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "npub:   %s\n", kp.Npub)
			fmt.Fprintf(w, "pubkey: %s\n", kp.PubkeyHex)
			fmt.Fprintf(w, "nsec:   %s\n", kp.Nsec)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "The nsec controls this identity. Store it in a secret manager; it is not shown again.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
