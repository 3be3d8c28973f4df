package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stablecoin-payments/internal/apperr"
	"stablecoin-payments/internal/payment"
	"stablecoin-payments/internal/version"
)

func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"name":    "stablepay",
		"version": version.Version,
		"endpoints": map[string]string{
			"health":   "/health",
			"network":  "/network",
			"payments": "/payments",
			"prices":   "/stablecoins/prices",
		},
	})
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	connected := false
	if a.network != nil {
		connected = a.network.IsConnected(r.Context())
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":               "healthy",
		"blockchain_connected": connected,
		"timestamp":            a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) NetworkInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.network.NetworkInfo(r.Context())
	if err != nil {
		a.writeError(w, r, apperr.Wrap(apperr.KindGateway, "api.NetworkInfo", err))
		return
	}
	a.writeJSON(w, http.StatusOK, info)
}

func (a *API) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req payment.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	rec, err := a.payments.Create(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, rec)
}

func (a *API) SendPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := a.payments.Send(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

func (a *API) CancelPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := a.payments.Cancel(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

func (a *API) PaymentByID(w http.ResponseWriter, r *http.Request) {
	a.lookup(w, r, payment.Lookup{PaymentID: chi.URLParam(r, "paymentID")})
}

func (a *API) PaymentByHash(w http.ResponseWriter, r *http.Request) {
	a.lookup(w, r, payment.Lookup{TxHash: chi.URLParam(r, "txHash")})
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request, lookup payment.Lookup) {
	rec, err := a.payments.Status(r.Context(), lookup)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

// ListPayments serves every payment, or those in ?status= when given.
func (a *API) ListPayments(w http.ResponseWriter, r *http.Request) {
	records := a.payments.All()
	if raw := r.URL.Query().Get("status"); raw != "" {
		filtered, err := a.payments.ByStatus(raw)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		records = filtered
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(records),
		"payments": records,
	})
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.payments.Statistics())
}

func (a *API) ListPrices(w http.ResponseWriter, r *http.Request) {
	quotes := a.prices.Prices(r.Context())
	info := a.prices.Info()
	a.writeJSON(w, http.StatusOK, map[string]any{
		"stablecoins":  quotes,
		"count":        len(quotes),
		"last_updated": info.FetchedAt,
		"cache_valid":  info.Valid,
	})
}

func (a *API) PriceBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	quote, ok, err := a.prices.Quote(r.Context(), symbol)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		a.writeError(w, r, apperr.New(apperr.KindNotFound, "api.PriceBySymbol", "no price available for %s", symbol))
		return
	}
	a.writeJSON(w, http.StatusOK, quote)
}

func (a *API) CacheInfo(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.prices.Info())
}

func (a *API) ClearCache(w http.ResponseWriter, r *http.Request) {
	a.prices.Clear()
	a.writeJSON(w, http.StatusOK, map[string]string{"message": "cache cleared"})
}
