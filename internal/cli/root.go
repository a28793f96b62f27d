// Package cli implements the autosms command line tool.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/obs"
)

type globalOptions struct {
	baseURL  string
	token    string
	secret   string
	timeout  time.Duration
	insecure bool
	verbose  bool
}

// NewRootCommand builds the command tree. Connection flags default to the
// AUTOSMS_* environment variables.
func NewRootCommand(version string) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "autosms",
		Short: "AutoSMS payment verification client",
		Long: `autosms talks to the AutoSMS payment verification API.

It verifies wallet transfers by phone number, manages checkout orders,
polls an order until its payment arrives and signs or checks webhook payloads.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", os.Getenv("AUTOSMS_BASE_URL"), "API base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("AUTOSMS_API_TOKEN"), "API bearer token")
	flags.StringVar(&opts.secret, "secret", os.Getenv("AUTOSMS_VERIFICATION_SECRET"), "response signing secret")
	flags.DurationVar(&opts.timeout, "timeout", envDuration("AUTOSMS_TIMEOUT", autosms.DefaultTimeout), "request timeout")
	flags.BoolVar(&opts.insecure, "insecure", false, "skip TLS certificate verification")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(newVerifyCmd(opts))
	root.AddCommand(newOrderCmd(opts))
	root.AddCommand(newPollCmd(opts))
	root.AddCommand(newSignCmd())
	return root
}

// Execute runs the tool with os.Args.
func Execute(version string) error {
	_ = godotenv.Load()
	root := NewRootCommand(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (o *globalOptions) client(cmd *cobra.Command) (*autosms.Client, error) {
	logger := zerolog.Nop()
	if o.verbose {
		logger = obs.NewLoggerTo(cmd.ErrOrStderr(), "console", "debug")
	}
	return autosms.NewClient(autosms.Config{
		BaseURL:            o.baseURL,
		APIToken:           o.token,
		VerificationSecret: o.secret,
		Timeout:            o.timeout,
		AllowInsecureTLS:   o.insecure,
	}, autosms.WithLogger(logger))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
