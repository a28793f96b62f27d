package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/poller"
)

// ErrPollTimedOut is returned when every attempt ran without a payment.
var ErrPollTimedOut = errors.New("payment not received before attempts ran out")

func newPollCmd(opts *globalOptions) *cobra.Command {
	var (
		interval    time.Duration
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "poll [order-id] [phone]",
		Short: "Wait until an order is paid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runPoll(ctx, cmd, poller.New(client), args[0], args[1], interval, maxAttempts)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "time between checks")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "checks before giving up")
	return cmd
}

func runPoll(ctx context.Context, cmd *cobra.Command, p *poller.Poller, orderID, phone string, interval time.Duration, maxAttempts int) error {
	var paid *autosms.Transaction
	poll, err := p.Start(ctx, poller.Request{
		OrderID:     orderID,
		Phone:       phone,
		Interval:    interval,
		MaxAttempts: maxAttempts,
		OnSuccess: func(_ *autosms.Order, tx *autosms.Transaction) {
			paid = tx
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "polling order %s every %s (max %d attempts)\n", orderID, interval, maxAttempts)

	select {
	case <-poll.Done():
	case <-ctx.Done():
		p.Stop(poll.Key())
		return ctx.Err()
	}

	switch poll.State() {
	case poller.Succeeded:
		fmt.Fprintf(cmd.ErrOrStderr(), "paid after %d attempts\n", poll.Attempts())
		if paid != nil {
			return printJSON(cmd.OutOrStdout(), paid)
		}
		return nil
	case poller.TimedOut:
		return ErrPollTimedOut
	default:
		return fmt.Errorf("poll ended in state %s", poll.State())
	}
}
