package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/memohai/wechatbot/internal/auth"
	"github.com/memohai/wechatbot/internal/config"
	"github.com/memohai/wechatbot/internal/wxcrypto"
)

type envelopeFlags struct {
	key    string
	corpID string
	token  string
}

// fill takes unset values from the wecom section of the config file and environment.
func (f *envelopeFlags) fill() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if f.key == "" {
		f.key = cfg.WeCom.EncodingAESKey
	}
	if f.corpID == "" {
		f.corpID = cfg.WeCom.CorpID
	}
	if f.token == "" {
		f.token = cfg.WeCom.Token
	}
	return nil
}

func (f *envelopeFlags) cipher() (*wxcrypto.Cipher, error) {
	if err := f.fill(); err != nil {
		return nil, err
	}
	return wxcrypto.NewCipher(f.key, f.corpID)
}

func newEnvelopeCmd() *cobra.Command {
	flags := &envelopeFlags{}
	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Encrypt, decrypt or seal WeCom callback payloads",
	}
	cmd.PersistentFlags().StringVar(&flags.key, "key", "", "43-character EncodingAESKey (default: wecom.encoding_aes_key)")
	cmd.PersistentFlags().StringVar(&flags.corpID, "corp-id", "", "tenant id embedded in the envelope (default: wecom.corp_id)")

	encrypt := &cobra.Command{
		Use:   "encrypt [plaintext|-]",
		Short: "Encrypt plaintext into a base64 envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.cipher()
			if err != nil {
				return err
			}
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			out, err := c.Encrypt(input)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	decrypt := &cobra.Command{
		Use:   "decrypt [envelope|-]",
		Short: "Decrypt a base64 envelope and check its tenant id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.cipher()
			if err != nil {
				return err
			}
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			out, err := c.Decrypt(strings.TrimSpace(input))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	var timestamp int64
	var nonce string
	seal := &cobra.Command{
		Use:   "seal [message-xml|-]",
		Short: "Build a signed encrypted delivery body, as the platform would post it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.cipher()
			if err != nil {
				return err
			}
			if flags.token == "" {
				return fmt.Errorf("signing token is required (--token or wecom.token)")
			}
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if timestamp == 0 {
				timestamp = time.Now().Unix()
			}
			if nonce == "" {
				nonce = strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
			}
			out, err := c.Seal(wxcrypto.NewVerifier(flags.token), input, timestamp, nonce)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	seal.Flags().StringVar(&flags.token, "token", "", "callback token (default: wecom.token)")
	seal.Flags().Int64Var(&timestamp, "timestamp", 0, "unix timestamp (default: now)")
	seal.Flags().StringVar(&nonce, "nonce", "", "nonce (default: random)")

	cmd.AddCommand(encrypt, decrypt, seal)
	return cmd
}

func newSignCmd() *cobra.Command {
	var token, timestamp, nonce string
	cmd := &cobra.Command{
		Use:   "sign [body]",
		Short: "Print the callback signature for token, timestamp, nonce and optional body",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			if timestamp == "" {
				timestamp = strconv.FormatInt(time.Now().Unix(), 10)
			}
			body := ""
			if len(args) == 1 {
				body = args[0]
			}
			fmt.Fprintln(cmd.OutOrStdout(), wxcrypto.NewVerifier(token).Sign(timestamp, nonce, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "callback token")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "timestamp (default: now)")
	cmd.Flags().StringVar(&nonce, "nonce", "", "nonce")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var userID, secret string
	var expiresIn time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the /api endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" || expiresIn == 0 {
				cfg, err := config.Load(resolveConfigPath())
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if secret == "" {
					secret = cfg.Auth.JWTSecret
				}
				if expiresIn == 0 {
					if expiresIn, err = cfg.Auth.JWTExpiresInDuration(); err != nil {
						return err
					}
				}
			}
			if secret == "" {
				return fmt.Errorf("jwt secret is required (--secret or auth.jwt_secret)")
			}
			signed, expiresAt, err := auth.GenerateToken(userID, secret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			fmt.Fprintln(cmd.ErrOrStderr(), "expires at", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "test", "user id claim")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (default: auth.jwt_secret)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "token lifetime (default: auth.jwt_expires_in)")
	return cmd
}

// readInput returns the single argument, or stdin when it is "-" or absent.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}
