package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/autosms-go/internal/common"
	"github.com/noah-isme/autosms-go/internal/signer"
	"github.com/noah-isme/autosms-go/internal/webhook"
)

const secret = "whsec"

var paidPayload = []byte(`{"event":"payment.verified","order":{"id":12,"status":"paid","total_amount":"100.00"},"transaction":{"transaction_id":"T1","amount":100,"currency":"EGP"}}`)

type countingCallback struct {
	calls  int
	events []webhook.Event
	result any
	err    error
}

func (c *countingCallback) handle(_ context.Context, evt webhook.Event) (any, error) {
	c.calls++
	c.events = append(c.events, evt)
	return c.result, c.err
}

func TestHandleStates(t *testing.T) {
	rc := webhook.Receiver{Secret: secret}
	valid := signer.Sign(paidPayload, secret)
	notJSON := []byte(`{"event":`)

	cases := []struct {
		name      string
		raw       []byte
		signature string
		status    int
		message   string
	}{
		{"empty payload", nil, valid, http.StatusBadRequest, "Empty payload"},
		{"missing signature", paidPayload, "", http.StatusUnauthorized, "Missing signature"},
		{"blank signature", paidPayload, "   ", http.StatusUnauthorized, "Missing signature"},
		{"wrong signature", paidPayload, signer.Sign(paidPayload, "other"), http.StatusUnauthorized, "Invalid signature"},
		{"signature over other body", paidPayload, signer.Sign([]byte(`{}`), secret), http.StatusUnauthorized, "Invalid signature"},
		{"malformed json", notJSON, signer.Sign(notJSON, secret), http.StatusBadRequest, "Invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb := &countingCallback{}
			res := rc.Handle(context.Background(), tc.raw, tc.signature, cb.handle)
			require.Equal(t, tc.status, res.Status)
			require.Equal(t, tc.message, res.Body["error"])
			require.Zero(t, cb.calls)
		})
	}
}

func TestHandleSuccessInvokesCallbackOnce(t *testing.T) {
	rc := webhook.Receiver{Secret: secret}
	cb := &countingCallback{result: map[string]string{"order": "12"}}

	res := rc.Handle(context.Background(), paidPayload, signer.Sign(paidPayload, secret), cb.handle)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, true, res.Body["success"])
	require.Equal(t, map[string]string{"order": "12"}, res.Body["result"])
	require.Equal(t, 1, cb.calls)

	evt := cb.events[0]
	require.Equal(t, "payment.verified", evt.Event)
	require.Equal(t, "paid", evt.Order.Status)
	require.Equal(t, "T1", evt.Transaction.TransactionID.String())
	require.JSONEq(t, string(paidPayload), string(evt.Raw))
}

func TestHandleNonObjectJSONStillDelivered(t *testing.T) {
	rc := webhook.Receiver{Secret: secret}
	raw := []byte(`[1,2,3]`)
	cb := &countingCallback{}

	res := rc.Handle(context.Background(), raw, signer.Sign(raw, secret), cb.handle)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, 1, cb.calls)
	require.Empty(t, cb.events[0].Event)
	require.JSONEq(t, `[1,2,3]`, string(cb.events[0].Raw))
}

func TestHandleCallbackFailure(t *testing.T) {
	rc := webhook.Receiver{Secret: secret}
	cb := &countingCallback{err: errors.New("order not found")}

	res := rc.Handle(context.Background(), paidPayload, signer.Sign(paidPayload, secret), cb.handle)
	require.Equal(t, http.StatusInternalServerError, res.Status)
	require.Equal(t, "order not found", res.Body["error"])
	require.Equal(t, 1, cb.calls)
}

func TestHandleCallbackPanic(t *testing.T) {
	rc := webhook.Receiver{Secret: secret}
	calls := 0
	res := rc.Handle(context.Background(), paidPayload, signer.Sign(paidPayload, secret), func(context.Context, webhook.Event) (any, error) {
		calls++
		panic("boom")
	})
	require.Equal(t, http.StatusInternalServerError, res.Status)
	require.Contains(t, res.Body["error"], "boom")
	require.Equal(t, 1, calls)
}

func TestHandleWithoutSecretRejectsEverything(t *testing.T) {
	rc := webhook.Receiver{}
	cb := &countingCallback{}
	for _, sig := range []string{signer.Sign(paidPayload, ""), signer.Sign(paidPayload, secret), "abc"} {
		res := rc.Handle(context.Background(), paidPayload, sig, cb.handle)
		require.Equal(t, http.StatusUnauthorized, res.Status)
		require.Equal(t, "Invalid signature", res.Body["error"])
	}
	require.Zero(t, cb.calls)
}

func TestReplayGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rc := webhook.Receiver{Secret: secret, Replay: rdb, ReplayTTL: time.Minute}
	cb := &countingCallback{}
	sig := signer.Sign(paidPayload, secret)

	first := rc.Handle(context.Background(), paidPayload, sig, cb.handle)
	require.Equal(t, http.StatusOK, first.Status)

	second := rc.Handle(context.Background(), paidPayload, sig, cb.handle)
	require.Equal(t, http.StatusConflict, second.Status)
	require.Equal(t, "Duplicate webhook", second.Body["error"])
	require.Equal(t, 1, cb.calls)

	mr.FastForward(2 * time.Minute)
	third := rc.Handle(context.Background(), paidPayload, sig, cb.handle)
	require.Equal(t, http.StatusOK, third.Status)
	require.Equal(t, 2, cb.calls)
}

func TestReplayGuardIgnoresRejectedPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rc := webhook.Receiver{Secret: secret, Replay: rdb}
	cb := &countingCallback{}

	res := rc.Handle(context.Background(), paidPayload, "bad", cb.handle)
	require.Equal(t, http.StatusUnauthorized, res.Status)
	require.Empty(t, mr.Keys())

	res = rc.Handle(context.Background(), paidPayload, signer.Sign(paidPayload, secret), cb.handle)
	require.Equal(t, http.StatusOK, res.Status)
	require.Len(t, mr.Keys(), 1)
}

func TestReplayGuardReleasesFailedDeliveries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rc := webhook.Receiver{Secret: secret, Replay: rdb}
	sig := signer.Sign(paidPayload, secret)
	failing := func(context.Context, webhook.Event) (any, error) { return nil, errors.New("store down") }

	res := rc.Handle(context.Background(), paidPayload, sig, failing)
	require.Equal(t, http.StatusInternalServerError, res.Status)
	require.Empty(t, mr.Keys())

	cb := &countingCallback{}
	res = rc.Handle(context.Background(), paidPayload, sig, cb.handle)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, 1, cb.calls)
}

func TestReplayGuardWithMemoryStore(t *testing.T) {
	rc := webhook.Receiver{Secret: secret, Replay: common.NewMemoryNX()}
	cb := &countingCallback{}
	sig := signer.Sign(paidPayload, secret)

	require.Equal(t, http.StatusOK, rc.Handle(context.Background(), paidPayload, sig, cb.handle).Status)
	require.Equal(t, http.StatusConflict, rc.Handle(context.Background(), paidPayload, sig, cb.handle).Status)
	require.Equal(t, 1, cb.calls)
}

func TestHTTPHandler(t *testing.T) {
	rc := webhook.Receiver{Secret: secret}
	cb := &countingCallback{result: "ok"}
	handler := rc.HTTPHandler(cb.handle, 0)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/autosms", bytes.NewReader(paidPayload))
	req.Header.Set(webhook.SignatureHeader, signer.Sign(paidPayload, secret))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
	require.Equal(t, "ok", body["result"])

	unsigned := httptest.NewRequest(http.MethodPost, "/webhooks/autosms", bytes.NewReader(paidPayload))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, unsigned)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.JSONEq(t, `{"error":"Missing signature"}`, rr.Body.String())
}

func TestHTTPHandlerBodyLimit(t *testing.T) {
	rc := webhook.Receiver{Secret: secret}
	handler := rc.HTTPHandler(nil, 16)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/autosms", bytes.NewReader(paidPayload))
	req.Header.Set(webhook.SignatureHeader, signer.Sign(paidPayload, secret))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
