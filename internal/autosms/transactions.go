package autosms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/autosms-go/internal/obs"
	"github.com/noah-isme/autosms-go/internal/signer"
)

const (
	// SignatureHeader carries the HMAC of API response bodies.
	SignatureHeader = "X-AutoSMS-Signature"

	pathVerifyTransaction = "/api/auto-sms/verify-transaction"
)

type verifyTransactionRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// VerifyTransaction asks the service whether a transfer from phone has
// arrived. When verifySignature is set and the client holds a verification
// secret, the response must carry a valid X-AutoSMS-Signature; without a
// secret the response is trusted as-is. The decoded result is returned
// without interpreting its business fields.
func (c *Client) VerifyTransaction(ctx context.Context, phone string, verifySignature bool) (*TransactionResult, error) {
	c.resetLastError()
	phone = NormalizePhone(phone)
	if err := c.validatePhone("phone_number", phone); err != nil {
		return nil, c.fail(err)
	}
	res, err := c.do(ctx, http.MethodPost, pathVerifyTransaction, verifyTransactionRequest{PhoneNumber: phone})
	if err != nil {
		return nil, c.fail(err)
	}
	if verifySignature {
		if err := c.checkSignature(res, pathVerifyTransaction); err != nil {
			return nil, c.fail(err)
		}
	}
	var out TransactionResult
	if err := decode(res.Body, &out); err != nil {
		return nil, c.fail(err)
	}
	return &out, nil
}

// checkSignature enforces the response signature. It is a no-op without a
// configured secret.
func (c *Client) checkSignature(res *Result, endpoint string) error {
	if c.secret == "" {
		recordSignature("skipped")
		return nil
	}
	provided, ok := res.Header(SignatureHeader)
	if !ok || strings.TrimSpace(provided) == "" {
		recordSignature("missing")
		c.logger.Warn().Str("endpoint", endpoint).Msg("autosms_signature_missing")
		return ErrSignatureMissing
	}
	if !signer.Verify(res.Body, c.secret, provided) {
		recordSignature("invalid")
		c.logger.Warn().Str("endpoint", endpoint).Msg("autosms_signature_invalid")
		return ErrSignatureInvalid
	}
	recordSignature("valid")
	return nil
}

func recordSignature(result string) {
	if obs.SignatureChecksTotal != nil {
		obs.SignatureChecksTotal.WithLabelValues("response", result).Inc()
	}
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
