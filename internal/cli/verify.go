package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// errNotFound makes the exit status non-zero when nothing matched.
var errNotFound = errors.New("no matching transaction")

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	var skipSignature bool
	cmd := &cobra.Command{
		Use:   "verify [phone]",
		Short: "Look up the latest transfer from a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			res, err := client.VerifyTransaction(cmd.Context(), args[0], !skipSignature)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Found() {
				return errNotFound
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipSignature, "skip-signature", false, "accept unsigned responses")
	return cmd
}
