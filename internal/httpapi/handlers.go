// Package httpapi is the HTTP surface of the gateway: the extraction
// pipeline endpoint plus quota, credits, and operator endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"metagate.io/internal/audit"
	"metagate.io/internal/breaker"
	"metagate.io/internal/credits"
	"metagate.io/internal/entitlement"
	"metagate.io/internal/extract"
	"metagate.io/internal/identity"
	"metagate.io/internal/obs"
	"metagate.io/internal/risk"
	"metagate.io/internal/usage"
)

// ReadyProbe checks service readiness, pinging the database when one is
// configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Issuer   *identity.Issuer
	Resolver *entitlement.Resolver
	Counters *usage.TwoTier
	Trials   usage.TrialStore
	Ledger   credits.Ledger
	Tracker  *risk.Tracker
	Breaker  *breaker.Breaker
	Audit    *audit.Log
	Engine   extract.Engine
	Authn    *Authenticator
	Ready    ReadyProbe
	Version  string
}

// API is the HTTP layer.
type API struct {
	router *mux.Router
	Deps
	authn *Authenticator
}

// New wires routes onto a router.
func New(deps Deps) *API {
	a := &API{
		router: mux.NewRouter(),
		Deps:   deps,
		authn:  deps.Authn,
	}
	if a.authn == nil {
		a.authn = NewAuthenticator("")
	}

	a.router.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	a.router.HandleFunc("/readyz", a.handleReady).Methods(http.MethodGet)
	a.router.HandleFunc("/v1/info", a.handleInfo).Methods(http.MethodGet)
	a.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := a.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/extractions", a.handleCreateExtraction).Methods(http.MethodPost)
	v1.HandleFunc("/quota", a.handleQuota).Methods(http.MethodGet)
	v1.HandleFunc("/credits/balance", a.requireUser(a.handleBalance)).Methods(http.MethodGet)
	v1.HandleFunc("/credits/purchase", a.requireUser(a.handlePurchase)).Methods(http.MethodPost)

	admin := a.router.PathPrefix("/v1/admin").Subrouter()
	admin.HandleFunc("/revoke", a.requireAdmin(a.handleRevoke)).Methods(http.MethodPost)
	admin.HandleFunc("/breaker", a.requireAdmin(a.handleBreaker)).Methods(http.MethodGet)
	admin.HandleFunc("/audit", a.requireAdmin(a.handleAudit)).Methods(http.MethodGet)

	return a
}

// Handler returns the full middleware chain. The per-IP rate limit is
// transport protection only; quota decisions belong to the resolver.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.router)
	h = a.withOptionalAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 100)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "metagate",
		"version": a.Version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "metagate",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.Version,
	})
}

// --- quota and credits ---

func (a *API) handleQuota(w http.ResponseWriter, r *http.Request) {
	tok, _ := a.Issuer.GetOrIssue(w, r)
	res := a.Counters.Get(r.Context(), tok.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":  tok.ID,
		"free_used": res.Record.FreeUsed,
		"degraded":  res.Degraded,
	})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	bal, err := a.Ledger.Get(r.Context(), entitlement.BalanceID(u.ID))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())

	var req struct {
		Credits int64 `json:"credits"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idemKey) > 64 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	bal, err := a.Ledger.Purchase(r.Context(), entitlement.BalanceID(u.ID), req.Credits, idemKey)
	if err != nil {
		if errors.Is(err, credits.ErrInvalidAmount) {
			writeError(w, r, http.StatusBadRequest, "credits must be > 0")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "purchase failed")
		return
	}
	a.Audit.Append(r.Context(), audit.Event{
		Severity: audit.SeverityInfo,
		Actor:    u.ID,
		Action:   "credits.purchase",
		Details:  map[string]any{"credits": req.Credits, "balance": bal.Credits},
	})
	writeJSON(w, http.StatusOK, bal)
}

// --- operator handlers ---

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())

	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.DeviceID == "" {
		writeError(w, r, http.StatusBadRequest, "device_id is required")
		return
	}
	a.Issuer.Revoke(req.DeviceID)
	a.Audit.Append(r.Context(), audit.Event{
		Severity: audit.SeverityWarning,
		Actor:    u.ID,
		Action:   "identity.revoke",
		Details:  map[string]any{"device_id": req.DeviceID},
	})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": req.DeviceID})
}

func (a *API) handleBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Breaker.Snapshot())
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": a.Audit.Recent(limit)})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := w.Header().Get("X-Request-Id"); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
