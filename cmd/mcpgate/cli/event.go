package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/plebmarket/mcpgate/internal/nostrauth"
)

// nsecEnv names the environment variable event sign reads the secret from.
const nsecEnv = "MCPGATE_NSEC"

func newEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Build, sign and verify Nostr auth events",
		Long: `Work with the signed auth events (kind 27235) that prove ownership of a
pubkey when creating, listing or revoking API keys.`,
	}

	cmd.AddCommand(newEventTemplateCmd())
	cmd.AddCommand(newEventSignCmd())
	cmd.AddCommand(newEventVerifyCmd())

	return cmd
}

// ---------- event template ----------

func newEventTemplateCmd() *cobra.Command {
	var pubkey, action string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print an unsigned auth event",
		RunE: func(cmd *cobra.Command, args []string) error {
			hexPub, err := nostrauth.NormalizePubkey(pubkey)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), nostrauth.CreateAuthEventTemplate(hexPub, action))
		},
	}

	cmd.Flags().StringVar(&pubkey, "pubkey", "", "Signer pubkey, hex or npub (required)")
	cmd.Flags().StringVar(&action, "action", nostrauth.DefaultAction, "Value of the action tag")
	cmd.MarkFlagRequired("pubkey")

	return cmd
}

// ---------- event sign ----------

func newEventSignCmd() *cobra.Command {
	var (
		nsec        string
		action      string
		template    string
		signerURL   string
		signerToken string
		pubkey      string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an auth event",
		Long: `Sign an auth event with a local secret or a remote signing service.

The secret is taken from --nsec, then the MCPGATE_NSEC environment variable,
and finally from a hidden terminal prompt. With --signer-url the unsigned
event is sent to that service instead and the secret never touches this
machine. Without --template a fresh event for --action is signed.`,
		Example: `  mcpgate event sign --action create_key
  MCPGATE_NSEC=nsec1... mcpgate event sign --template draft.json
  mcpgate event sign --signer-url https://signer.internal/sign --pubkey npub1...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := resolveSigner(cmd, nsec, signerURL, signerToken, pubkey)
			if err != nil {
				return err
			}

			draft := nostrauth.CreateAuthEventTemplate(signer.Pubkey(), action)
			if template != "" {
				raw, err := readInput(cmd.InOrStdin(), template)
				if err != nil {
					return fmt.Errorf("read template: %w", err)
				}
				draft, err = nostrauth.ParseEvent(raw)
				if err != nil || draft == nil {
					return fmt.Errorf("template is not a valid event")
				}
			}

			signed, err := signer.Sign(cmdContext(), draft)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), signed)
		},
	}

	cmd.Flags().StringVar(&nsec, "nsec", "", "Secret key, nsec or hex (prefer MCPGATE_NSEC or the prompt)")
	cmd.Flags().StringVar(&action, "action", nostrauth.DefaultAction, "Action tag for a fresh event")
	cmd.Flags().StringVar(&template, "template", "", "Unsigned event to sign, a file or - for stdin")
	cmd.Flags().StringVar(&signerURL, "signer-url", "", "Remote signing service URL")
	cmd.Flags().StringVar(&signerToken, "signer-token", "", "Bearer token for the remote signing service")
	cmd.Flags().StringVar(&pubkey, "pubkey", "", "Pubkey the remote signer signs as (required with --signer-url)")

	return cmd
}

// resolveSigner picks a remote signer when a URL is given and otherwise a
// local signer from the first available secret source.
func resolveSigner(cmd *cobra.Command, nsec, signerURL, signerToken, pubkey string) (nostrauth.Signer, error) {
	if signerURL != "" {
		if pubkey == "" {
			return nil, errors.New("--pubkey is required with --signer-url")
		}
		hexPub, err := nostrauth.NormalizePubkey(pubkey)
		if err != nil {
			return nil, err
		}
		return nostrauth.NewRemoteSigner(signerURL, signerToken, hexPub), nil
	}

	secret := nsec
	if secret == "" {
		secret = os.Getenv(nsecEnv)
	}
	if secret == "" {
		prompted, err := promptSecret(cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		secret = prompted
	}
	local, err := nostrauth.NewLocalSigner(strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}
	return local, nil
}

// promptSecret reads the secret from the terminal without echoing it.
func promptSecret(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no secret given: pass --nsec, set %s, or run in a terminal", nsecEnv)
	}
	fmt.Fprint(w, "nsec: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(b), nil
}

// ---------- event verify ----------

func newEventVerifyCmd() *cobra.Command {
	var (
		pubkey string
		window time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Verify a signed auth event",
		Long:  "Check kind, signature, freshness and, with --pubkey, the signer of an event read from a file or stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "-"
			if len(args) == 1 {
				name = args[0]
			}
			raw, err := readInput(cmd.InOrStdin(), name)
			if err != nil {
				return fmt.Errorf("read event: %w", err)
			}

			expected := ""
			if pubkey != "" {
				if expected, err = nostrauth.NormalizePubkey(pubkey); err != nil {
					return err
				}
			}

			ev, err := nostrauth.ParseEvent(raw)
			var res nostrauth.Result
			if err != nil {
				res = nostrauth.Result{Error: nostrauth.MsgMissingEvent}
			} else {
				res = nostrauth.NewVerifier(window, nil).Verify(ev, expected)
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("event rejected: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pubkey, "pubkey", "", "Expected signer, hex or npub")
	cmd.Flags().DurationVar(&window, "window", nostrauth.DefaultWindow, "Freshness window")

	return cmd
}
