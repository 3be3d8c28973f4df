// Package api exposes the payment tracker and the price cache over HTTP.
//
// Every response uses the same envelope: {"success":true,"data":...} on
// success and {"success":false,"error":<kind>,"message":...} on failure,
// where kind is the apperr.Kind string of the underlying error.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"stablecoin-payments/internal/apperr"
	"stablecoin-payments/internal/chain"
	"stablecoin-payments/internal/payment"
	"stablecoin-payments/internal/pricing"
)

const maxBodyBytes = 1 << 20

// Payments is the tracker surface served by the API.
type Payments interface {
	Create(ctx context.Context, req payment.CreateRequest) (payment.Record, error)
	Send(ctx context.Context, paymentID string) (payment.Record, error)
	Status(ctx context.Context, lookup payment.Lookup) (payment.Record, error)
	All() []payment.Record
	ByStatus(status string) ([]payment.Record, error)
	Cancel(ctx context.Context, paymentID string) (payment.Record, error)
	Statistics() payment.Statistics
}

// Prices is the cache surface served by the API.
type Prices interface {
	Prices(ctx context.Context) []pricing.Quote
	Quote(ctx context.Context, symbol string) (pricing.Quote, bool, error)
	Info() pricing.CacheInfo
	Clear()
}

// Network reports chain connectivity.
type Network interface {
	IsConnected(ctx context.Context) bool
	NetworkInfo(ctx context.Context) (chain.NetworkInfo, error)
}

// Options configure cross-cutting middleware.
type Options struct {
	AllowedOrigins []string
}

// API holds the handlers.
type API struct {
	payments Payments
	prices   Prices
	network  Network
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the API.
func New(payments Payments, prices Prices, network Network, logger zerolog.Logger) *API {
	return &API{
		payments: payments,
		prices:   prices,
		network:  network,
		logger:   logger.With().Str("component", "api").Logger(),
		now:      time.Now,
	}
}

// Handler builds the router with middleware and every route registered.
func (a *API) Handler(opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the handlers on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/", a.Root)
	r.Get("/health", a.Health)
	r.Get("/network", a.NetworkInfo)

	r.Route("/payments", func(r chi.Router) {
		r.Get("/", a.ListPayments)
		r.Get("/stats", a.Stats)
		r.Post("/create", a.CreatePayment)
		r.Get("/by-id/{paymentID}", a.PaymentByID)
		r.Get("/status/{txHash}", a.PaymentByHash)
		r.Post("/{paymentID}/send", a.SendPayment)
		r.Post("/{paymentID}/cancel", a.CancelPayment)
	})

	r.Route("/stablecoins", func(r chi.Router) {
		r.Get("/prices", a.ListPrices)
		r.Get("/prices/{symbol}", a.PriceBySymbol)
		r.Get("/cache", a.CacheInfo)
		r.Delete("/cache", a.ClearCache)
	})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		a.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Msg != "" {
		message = appErr.Msg
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("kind", kind.String()).
			Msg("request failed")
		if kind == apperr.KindUnknown {
			message = "internal server error"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: kind.String(), Message: message})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTokenNotAllowed:
		return http.StatusUnprocessableEntity
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindGateway, apperr.KindUpstreamFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.New(apperr.KindValidation, "api.decode", "invalid request body: %v", err)
	}
	return nil
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := a.now()
		next.ServeHTTP(ww, r)

		a.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", a.now().Sub(started)).
			Msg("http request")
	})
}
