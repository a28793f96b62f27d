package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/autosms-go/internal/autosms"
)

func newOrderCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage checkout orders",
	}
	cmd.AddCommand(newOrderCreateCmd(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "get [order-id]",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			res, err := client.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "verify [order-id] [phone]",
		Short: "Check once whether an order has been paid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			res, err := client.VerifyOrderPayment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			raw, err := client.CancelOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if raw == nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	})
	return cmd
}

func newOrderCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		req   autosms.CreateOrderRequest
		items []string
		total float64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order and print the payment instructions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, raw := range items {
				item, err := parseItem(raw)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
			}
			req.TotalAmount = autosms.Amount(total)
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			res, err := client.CreateOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.CustomerName, "name", "", "customer name")
	f.StringVar(&req.CustomerPhone, "phone", "", "customer phone number")
	f.StringVar(&req.CustomerEmail, "email", "", "customer email")
	f.StringVar(&req.Currency, "currency", autosms.DefaultCurrency, "ISO currency code")
	f.StringVar(&req.Notes, "notes", "", "free text notes")
	f.Float64Var(&total, "total", 0, "order total; computed from items when zero")
	f.StringArrayVar(&items, "item", nil, "order line as name:quantity:price (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

// parseItem reads name:quantity:price. The name may itself contain colons.
func parseItem(raw string) (autosms.OrderItem, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 {
		return autosms.OrderItem{}, fmt.Errorf("item %q: want name:quantity:price", raw)
	}
	n := len(parts)
	name := strings.TrimSpace(strings.Join(parts[:n-2], ":"))
	qty, err := strconv.Atoi(strings.TrimSpace(parts[n-2]))
	if err != nil {
		return autosms.OrderItem{}, fmt.Errorf("item %q: quantity: %w", raw, err)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(parts[n-1]), 64)
	if err != nil {
		return autosms.OrderItem{}, fmt.Errorf("item %q: price: %w", raw, err)
	}
	return autosms.OrderItem{Name: name, Quantity: qty, Price: autosms.Amount(price)}, nil
}
