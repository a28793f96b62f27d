package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/cli"
	"github.com/noah-isme/autosms-go/internal/signer"
)

const secret = "cli-secret"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := cli.NewRootCommand("test")
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// api serves handler and returns the connection flags pointing at it.
func api(t *testing.T, handler http.HandlerFunc) []string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return []string{"--base-url", srv.URL, "--token", "tok", "--secret", secret}
}

func signed(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(autosms.SignatureHeader, signer.Sign([]byte(body), secret))
	_, _ = io.WriteString(w, body)
}

func TestVerifyCommand(t *testing.T) {
	conn := api(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auto-sms/verify-transaction", r.URL.Path)
		signed(w, `{"success":true,"transaction":{"transaction_id":"T1","phone_number":"01015218548","amount":100,"currency":"EGP"}}`)
	})

	out, err := run(t, "", append([]string{"verify", "01015218548"}, conn...)...)
	require.NoError(t, err)
	var res autosms.TransactionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Found())
	require.Equal(t, autosms.Amount(100), res.Transaction.Amount)
}

func TestVerifyCommandNoMatch(t *testing.T) {
	conn := api(t, func(w http.ResponseWriter, r *http.Request) {
		signed(w, `{"success":false,"message":"not found"}`)
	})
	out, err := run(t, "", append([]string{"verify", "01015218548"}, conn...)...)
	require.Error(t, err)
	require.Contains(t, out, "not found")
}

func TestVerifyCommandRejectsUnsignedResponse(t *testing.T) {
	conn := api(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	_, err := run(t, "", append([]string{"verify", "01015218548"}, conn...)...)
	require.ErrorIs(t, err, autosms.ErrSignatureMissing)

	_, err = run(t, "", append([]string{"verify", "01015218548", "--skip-signature"}, conn...)...)
	require.Error(t, err) // still no transaction
	require.NotErrorIs(t, err, autosms.ErrSignatureMissing)
}

func TestOrderCreateCommand(t *testing.T) {
	var body map[string]any
	conn := api(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auto-sms/orders/create", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"success":true,"order":{"id":7,"total_amount":"150.00"},"payment_instructions":{"wallet_number":"0100","amount":150}}`)
	})

	out, err := run(t, "", append([]string{"order", "create",
		"--name", "Mona", "--phone", "01015218548",
		"--item", "Tea: green:2:50", "--item", "Cup:1:50"}, conn...)...)
	require.NoError(t, err)
	require.Contains(t, out, `"wallet_number": "0100"`)
	require.EqualValues(t, 150, body["total_amount"])
	require.Equal(t, "EGP", body["currency"])
	items := body["items"].([]any)
	require.Equal(t, "Tea: green", items[0].(map[string]any)["name"])
}

func TestOrderCreateRejectsBadItem(t *testing.T) {
	_, err := run(t, "", "order", "create", "--base-url", "http://127.0.0.1:1", "--token", "t",
		"--name", "Mona", "--phone", "01015218548", "--item", "Cup:x:50")
	require.ErrorContains(t, err, "quantity")
}

func TestOrderGetAndCancel(t *testing.T) {
	conn := api(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auto-sms/orders/42":
			_, _ = io.WriteString(w, `{"success":true,"order":{"id":"42","status":"pending"}}`)
		case "/api/auto-sms/orders/42/cancel":
			_, _ = io.WriteString(w, `{"success":true,"message":"cancelled"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	out, err := run(t, "", append([]string{"order", "get", "42"}, conn...)...)
	require.NoError(t, err)
	require.Contains(t, out, `"status": "pending"`)

	out, err = run(t, "", append([]string{"order", "cancel", "42"}, conn...)...)
	require.NoError(t, err)
	require.Contains(t, out, `"message": "cancelled"`)

	_, err = run(t, "", append([]string{"order", "get", "missing"}, conn...)...)
	var statusErr *autosms.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestPollCommandWaitsForPayment(t *testing.T) {
	var calls atomic.Int32
	conn := api(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			signed(w, `{"success":true,"payment_verified":false}`)
			return
		}
		signed(w, `{"success":true,"payment_verified":true,"transaction":{"transaction_id":"T9","amount":100}}`)
	})

	out, err := run(t, "", append([]string{"poll", "ord-1", "01015218548", "--interval", "5ms", "--max-attempts", "10"}, conn...)...)
	require.NoError(t, err)
	require.Contains(t, out, `"transaction_id": "T9"`)
	require.EqualValues(t, 3, calls.Load())
}

func TestPollCommandTimesOut(t *testing.T) {
	conn := api(t, func(w http.ResponseWriter, r *http.Request) {
		signed(w, `{"success":true,"payment_verified":false}`)
	})
	_, err := run(t, "", append([]string{"poll", "ord-1", "01015218548", "--interval", "1ms", "--max-attempts", "2"}, conn...)...)
	require.ErrorIs(t, err, cli.ErrPollTimedOut)
}

func TestSignCommand(t *testing.T) {
	payload := `{"event":"order.paid"}`
	want := signer.Sign([]byte(payload), "k")

	out, err := run(t, payload, "sign", "--key", "k")
	require.NoError(t, err)
	require.Equal(t, want+"\n", out)

	file := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(file, []byte(payload), 0o600))
	out, err = run(t, "", "sign", "--key", "k", "--file", file, "--check", want)
	require.NoError(t, err)
	require.Equal(t, "valid\n", out)

	_, err = run(t, payload, "sign", "--key", "k", "--check", strings.Repeat("0", 64))
	require.ErrorIs(t, err, cli.ErrSignatureMismatch)
}

func TestSignCommandRequiresSecret(t *testing.T) {
	t.Setenv("AUTOSMS_WEBHOOK_SECRET", "")
	_, err := run(t, "x", "sign")
	require.ErrorContains(t, err, "secret")
}
