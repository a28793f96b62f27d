package autosms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value. The API sends it either as a JSON number or as a
// numeric string ("100.00"); both decode to the same value.
type Amount float64

// UnmarshalJSON accepts numbers, numeric strings and null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// Float64 returns the amount as a float.
func (a Amount) Float64() float64 { return float64(a) }

func (a Amount) String() string {
	return strconv.FormatFloat(float64(a), 'f', 2, 64)
}

// ID is an identifier the API emits either as a number or as a string.
type ID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Transaction is an incoming wallet transfer matched by the service.
type Transaction struct {
	TransactionID   ID      `json:"transaction_id"`
	PhoneNumber     string  `json:"phone_number"`
	Amount          Amount  `json:"amount"`
	Currency        string  `json:"currency"`
	SenderName      *string `json:"sender_name,omitempty"`
	TransactionDate string  `json:"transaction_date,omitempty"`
}

// TransactionResult is the verify-transaction response.
type TransactionResult struct {
	Success     bool         `json:"success"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// Found reports whether the service matched a transaction.
func (r *TransactionResult) Found() bool {
	return r != nil && r.Success && r.Transaction != nil
}

// OrderItem is one line of an order.
type OrderItem struct {
	Name     string `json:"name" validate:"required,max=255"`
	SKU      string `json:"sku,omitempty" validate:"omitempty,max=64"`
	Quantity int    `json:"quantity" validate:"min=1"`
	Price    Amount `json:"price" validate:"gte=0"`
}

// Order is the service's view of a checkout order.
type Order struct {
	ID            ID          `json:"id"`
	OrderNumber   string      `json:"order_number,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	Items         []OrderItem `json:"items,omitempty"`
	TotalAmount   Amount      `json:"total_amount"`
	Currency      string      `json:"currency,omitempty"`
	Status        string      `json:"status,omitempty"`
	PaymentStatus string      `json:"payment_status,omitempty"`
	CreatedAt     string      `json:"created_at,omitempty"`
	PaidAt        *string     `json:"paid_at,omitempty"`
	ExpiresAt     *string     `json:"expires_at,omitempty"`
}

// PaymentInstructions tells the customer where and how much to transfer.
type PaymentInstructions struct {
	WalletNumber string   `json:"wallet_number,omitempty"`
	Amount       Amount   `json:"amount"`
	Currency     string   `json:"currency,omitempty"`
	Reference    string   `json:"reference,omitempty"`
	Message      string   `json:"message,omitempty"`
	Steps        []string `json:"steps,omitempty"`
}

// CreateOrderRequest is the body of orders/create.
type CreateOrderRequest struct {
	CustomerName  string            `json:"customer_name" validate:"required,max=255"`
	CustomerPhone string            `json:"customer_phone" validate:"required,phone"`
	CustomerEmail string            `json:"customer_email,omitempty" validate:"omitempty,email"`
	Items         []OrderItem       `json:"items" validate:"required,min=1,dive"`
	TotalAmount   Amount            `json:"total_amount" validate:"gt=0"`
	Currency      string            `json:"currency" validate:"required,len=3,alpha"`
	Notes         string            `json:"notes,omitempty" validate:"max=1000"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateOrderResult is the orders/create response.
type CreateOrderResult struct {
	Success             bool                 `json:"success"`
	Order               *Order               `json:"order,omitempty"`
	PaymentInstructions *PaymentInstructions `json:"payment_instructions,omitempty"`
	Message             string               `json:"message,omitempty"`
}

// PaymentVerification is the orders/verify-payment response.
type PaymentVerification struct {
	Success         bool         `json:"success"`
	PaymentVerified bool         `json:"payment_verified"`
	Order           *Order       `json:"order,omitempty"`
	Transaction     *Transaction `json:"transaction,omitempty"`
	Message         string       `json:"message,omitempty"`
}

// Verified reports whether a payment was matched to the order.
func (p *PaymentVerification) Verified() bool {
	return p != nil && p.Success && p.PaymentVerified
}

// OrderResult is the orders/{id} response.
type OrderResult struct {
	Success bool   `json:"success"`
	Order   *Order `json:"order,omitempty"`
	Message string `json:"message,omitempty"`
}
