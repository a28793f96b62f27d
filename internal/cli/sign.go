package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/autosms-go/internal/signer"
)

// ErrSignatureMismatch is returned by sign --check when the signature differs.
var ErrSignatureMismatch = errors.New("signature mismatch")

func newSignCmd() *cobra.Command {
	var (
		secret string
		file   string
		check  string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute or check the HMAC-SHA256 signature of a payload",
		Long: `sign reads a payload from --file or stdin and prints its hex HMAC-SHA256
signature. With --check it compares against the given signature instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("AUTOSMS_WEBHOOK_SECRET")
			}
			if secret == "" {
				return errors.New("a signing secret is required (--key or AUTOSMS_WEBHOOK_SECRET)")
			}
			payload, err := readPayload(cmd, file)
			if err != nil {
				return err
			}
			if check != "" {
				if !signer.Verify(payload, secret, check) {
					return ErrSignatureMismatch
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "valid")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signer.Sign(payload, secret))
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "key", "", "signing secret (default $AUTOSMS_WEBHOOK_SECRET)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "payload file (default stdin)")
	cmd.Flags().StringVar(&check, "check", "", "signature to verify instead of printing one")
	return cmd
}

func readPayload(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}
