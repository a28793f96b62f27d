package checkout

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/common"
	"github.com/noah-isme/autosms-go/internal/resilience"
	"github.com/noah-isme/autosms-go/internal/security"
)

//go:embed templates/checkout.html.tmpl
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/checkout.html.tmpl"))

// Handler exposes the checkout page and its JSON endpoints.
type Handler struct {
	Svc      *Service
	CSRF     security.CSRF
	Title    string
	Currency string
	Logger   zerolog.Logger
}

type pageData struct {
	Title              string
	CSRFToken          string
	Currency           string
	CreateURL          string
	OrdersURL          string
	PollIntervalMillis int64
	MaxAttempts        int
}

type verifyInput struct {
	PhoneNumber string `json:"phone_number"`
}

// Routes mounts the checkout endpoints on r. mws wrap the JSON endpoints
// only; CSRF and X-Requested-With checks are always applied to them.
func (h *Handler) Routes(r chi.Router, mws ...func(http.Handler) http.Handler) {
	csrf := h.CSRF
	csrf.RequireXHR = true
	r.Get("/checkout", h.Page)
	r.Route("/checkout/orders", func(r chi.Router) {
		r.Use(mws...)
		r.Use(csrf.Middleware)
		r.Post("/", h.CreateOrder)
		r.Post("/{id}/verify", h.Verify)
		r.Get("/{id}/status", h.Status)
		r.Post("/{id}/cancel", h.Cancel)
	})
}

// Page renders the checkout form.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Title:       h.Title,
		CSRFToken:   h.CSRF.Issue(w, r),
		Currency:    h.Currency,
		CreateURL:   "/checkout/orders",
		OrdersURL:   "/checkout/orders/",
		MaxAttempts: 60,
	}
	if data.Title == "" {
		data.Title = "Checkout"
	}
	if data.Currency == "" {
		data.Currency = autosms.DefaultCurrency
	}
	if h.Svc != nil {
		if h.Svc.PollInterval > 0 {
			data.PollIntervalMillis = h.Svc.PollInterval.Milliseconds()
		}
		if h.Svc.PollMaxAttempts > 0 {
			data.MaxAttempts = h.Svc.PollMaxAttempts
		}
	}
	if data.PollIntervalMillis == 0 {
		data.PollIntervalMillis = 5000
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := page.Execute(w, data); err != nil {
		h.Logger.Error().Err(err).Msg("checkout_page_render_failed")
	}
}

// CreateOrder handles POST /checkout/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var payload autosms.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if strings.TrimSpace(payload.Currency) == "" {
		payload.Currency = h.Currency
	}
	out, err := h.Svc.Create(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Verify handles POST /checkout/orders/{id}/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var payload verifyInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	out, err := h.Svc.Verify(r.Context(), chi.URLParam(r, "id"), payload.PhoneNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Status handles GET /checkout/orders/{id}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	common.JSON(w, http.StatusOK, map[string]any{"data": st})
}

// Cancel handles POST /checkout/orders/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	raw, err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": raw})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var (
		appErr       *common.AppError
		validation   *autosms.ValidationError
		statusErr    *autosms.HTTPStatusError
		transportErr *autosms.TransportError
	)
	switch {
	case errors.As(err, &appErr):
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
	case errors.As(err, &validation):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "invalid order details", validation.Fields)
	case errors.Is(err, ErrStatusNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, autosms.ErrSignatureMissing), errors.Is(err, autosms.ErrSignatureInvalid):
		h.Logger.Warn().Err(err).Msg("checkout_untrusted_response")
		common.JSONError(w, http.StatusBadGateway, "UNTRUSTED_RESPONSE", "payment service response could not be verified", nil)
	case errors.As(err, &statusErr):
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "payment service rejected the request", map[string]any{"status": statusErr.Code})
	case errors.Is(err, resilience.ErrOpenCircuit), errors.As(err, &transportErr):
		common.JSONError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "payment service unavailable", nil)
	case errors.Is(err, autosms.ErrMalformedResponse):
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "payment service returned an invalid response", nil)
	default:
		h.Logger.Error().Err(err).Msg("checkout_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
	}
}
