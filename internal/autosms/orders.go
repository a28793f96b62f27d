package autosms

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
)

const (
	pathCreateOrder   = "/api/auto-sms/orders/create"
	pathVerifyPayment = "/api/auto-sms/orders/verify-payment"
	pathOrders        = "/api/auto-sms/orders/"

	// DefaultCurrency is used when an order does not name one.
	DefaultCurrency = "EGP"
)

type verifyPaymentRequest struct {
	OrderID     string `json:"order_id"`
	PhoneNumber string `json:"phone_number"`
}

// CreateOrder registers an order and returns the transfer instructions to show
// the customer. A zero TotalAmount is filled in from the items.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	c.resetLastError()
	req = normaliseOrder(req)
	if err := c.validateStruct(req); err != nil {
		return nil, c.fail(err)
	}
	res, err := c.do(ctx, http.MethodPost, pathCreateOrder, req)
	if err != nil {
		return nil, c.fail(err)
	}
	var out CreateOrderResult
	if err := decode(res.Body, &out); err != nil {
		return nil, c.fail(err)
	}
	return &out, nil
}

// VerifyOrderPayment asks whether a transfer from phone settled orderID. The
// response signature is enforced exactly as in VerifyTransaction.
func (c *Client) VerifyOrderPayment(ctx context.Context, orderID, phone string) (*PaymentVerification, error) {
	c.resetLastError()
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, c.fail(newValidationError("order_id", "is required"))
	}
	phone = NormalizePhone(phone)
	if err := c.validatePhone("phone_number", phone); err != nil {
		return nil, c.fail(err)
	}
	res, err := c.do(ctx, http.MethodPost, pathVerifyPayment, verifyPaymentRequest{OrderID: orderID, PhoneNumber: phone})
	if err != nil {
		return nil, c.fail(err)
	}
	if err := c.checkSignature(res, pathVerifyPayment); err != nil {
		return nil, c.fail(err)
	}
	var out PaymentVerification
	if err := decode(res.Body, &out); err != nil {
		return nil, c.fail(err)
	}
	return &out, nil
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderResult, error) {
	c.resetLastError()
	endpoint, err := orderPath(orderID, "")
	if err != nil {
		return nil, c.fail(err)
	}
	res, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, c.fail(err)
	}
	var out OrderResult
	if err := decode(res.Body, &out); err != nil {
		return nil, c.fail(err)
	}
	return &out, nil
}

// CancelOrder cancels an order. The service's reply is returned verbatim; an
// empty body yields nil.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	c.resetLastError()
	endpoint, err := orderPath(orderID, "cancel")
	if err != nil {
		return nil, c.fail(err)
	}
	res, err := c.do(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, c.fail(err)
	}
	if len(strings.TrimSpace(string(res.Body))) == 0 {
		return nil, nil
	}
	if !json.Valid(res.Body) {
		return nil, c.fail(fmt.Errorf("%w: cancel response is not json", ErrMalformedResponse))
	}
	return json.RawMessage(res.Body), nil
}

func orderPath(orderID, action string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", newValidationError("order_id", "is required")
	}
	p := pathOrders + url.PathEscape(orderID)
	if action != "" {
		p += "/" + action
	}
	return p, nil
}

func normaliseOrder(req CreateOrderRequest) CreateOrderRequest {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = NormalizePhone(req.CustomerPhone)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}
	items := make([]OrderItem, len(req.Items))
	for i, item := range req.Items {
		item.Name = strings.TrimSpace(item.Name)
		items[i] = item
	}
	req.Items = items
	if req.TotalAmount == 0 {
		req.TotalAmount = ItemsTotal(items)
	}
	return req
}

// ItemsTotal sums price × quantity, rounded to cents.
func ItemsTotal(items []OrderItem) Amount {
	var total float64
	for _, item := range items {
		total += float64(item.Price) * float64(item.Quantity)
	}
	return Amount(math.Round(total*100) / 100)
}
