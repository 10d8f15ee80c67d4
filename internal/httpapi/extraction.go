package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"metagate.io/internal/breaker"
	"metagate.io/internal/credits"
	"metagate.io/internal/entitlement"
	"metagate.io/internal/extract"
	"metagate.io/internal/obs"
	"metagate.io/internal/redact"
)

type extractionRequest struct {
	FileID     string `json:"file_id"`
	TrialEmail string `json:"trial_email,omitempty"`
}

type extractionResponse struct {
	Allowed          bool           `json:"allowed"`
	Mode             redact.Mode    `json:"mode"`
	Reason           string         `json:"reason"`
	CreditsRemaining int64          `json:"creditsRemaining,omitempty"`
	FreeQuotaUsed    int            `json:"freeQuotaUsed,omitempty"`
	Degraded         bool           `json:"degraded,omitempty"`
	Report           *redact.Report `json:"report"`
}

// handleCreateExtraction runs the full pipeline: resolve the device
// identity, resolve entitlement, block with an escalated response or run
// the extraction, then shape the report to the resolved mode.
func (a *API) handleCreateExtraction(w http.ResponseWriter, r *http.Request) {
	tok, _ := a.Issuer.GetOrIssue(w, r)
	ip := clientIP(r)
	ua := r.UserAgent()

	var req extractionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.FileID == "" {
		writeError(w, r, http.StatusBadRequest, "file_id is required")
		return
	}

	var userID string
	if u, ok := UserFromContext(r.Context()); ok {
		userID = u.ID
	}

	decision := a.Resolver.Resolve(r.Context(), entitlement.Input{
		UserID:     userID,
		TrialEmail: req.TrialEmail,
		Identity:   tok.ID,
	})
	obs.CountDecision(decision.Reason)

	if !decision.Allowed {
		a.Tracker.RecordFailure(tok.ID, ip, ua)
		a.escalate(w, r, tok, decision)
		return
	}
	a.Tracker.RecordRequest(tok.ID, ip, ua)

	// Load shedding never blocks, it only surfaces the expected delay.
	tier := breaker.TierFree
	if decision.ChargeCredits {
		tier = breaker.TierPaid
	}
	if adm := a.Breaker.Admit(tier); adm.Delayed {
		w.Header().Set("X-Queue-Delayed", "true")
		w.Header().Set("X-Estimated-Wait", strconv.Itoa(adm.EstimatedWaitSeconds))
		obs.CountDelayedAdmission(string(tier))
	}

	report, err := a.runExtraction(w, r, tok.ID, req, decision)
	if err != nil {
		return
	}

	a.Breaker.RecordSuccess()
	writeJSON(w, http.StatusOK, extractionResponse{
		Allowed:          true,
		Mode:             decision.Mode,
		Reason:           decision.Reason,
		CreditsRemaining: decision.CreditsRemaining,
		FreeQuotaUsed:    decision.FreeQuotaUsed,
		Degraded:         decision.Degraded,
		Report:           report,
	})
}

// runExtraction charges the request, calls the engine, and records the
// consumption. A failed engine call never costs a credit or a free use;
// an error return means the response has already been written.
func (a *API) runExtraction(w http.ResponseWriter, r *http.Request, identity string, req extractionRequest, decision entitlement.Decision) (*redact.Report, error) {
	ctx := r.Context()

	reservation, reserved := a.reserveCredit(w, r, decision)
	if !reserved {
		return nil, errors.New("reservation failed")
	}

	report, err := a.Engine.Extract(ctx, req.FileID, string(decision.Mode))
	if err != nil {
		if decision.ChargeCredits {
			if _, relErr := a.Ledger.Release(ctx, reservation); relErr != nil {
				a.logPipelineError("credit release", relErr)
			}
		}
		a.Tracker.RecordFailure(identity, clientIP(r), r.UserAgent())
		if errors.Is(err, extract.ErrEngineUnavailable) {
			writeError(w, r, http.StatusBadGateway, "extraction engine unavailable")
		} else {
			writeError(w, r, http.StatusUnprocessableEntity, "extraction failed")
		}
		return nil, err
	}

	switch {
	case decision.ChargeCredits:
		if _, err := a.Ledger.Commit(ctx, reservation); err != nil {
			a.logPipelineError("credit commit", err)
		}
	case decision.Reason == entitlement.ReasonTrialFull:
		if email, ok := entitlement.NormalizeEmail(req.TrialEmail); ok {
			if _, err := a.Trials.IncrementTrial(ctx, email); err != nil {
				a.logPipelineError("trial increment", err)
			}
		}
	default:
		a.Counters.Increment(ctx, identity, clientIP(r))
	}

	return redact.Apply(report, decision.Mode), nil
}

// reserveCredit takes the one-credit hold for paid requests. It reports
// false, with the response already written, when the hold cannot be taken.
func (a *API) reserveCredit(w http.ResponseWriter, r *http.Request, decision entitlement.Decision) (credits.Reservation, bool) {
	if !decision.ChargeCredits {
		return credits.Reservation{}, true
	}
	reservation, err := a.Ledger.Reserve(r.Context(), entitlement.BalanceID(decision.UserID), 1)
	if err != nil {
		// Lost a race with a concurrent request spending the last credit.
		writeError(w, r, http.StatusTooManyRequests, "insufficient credits")
		return credits.Reservation{}, false
	}
	return reservation, true
}

func (a *API) logPipelineError(op string, err error) {
	obs.LogRequest(map[string]any{
		"level": "error",
		"msg":   "extraction pipeline error",
		"op":    op,
		"error": err.Error(),
	})
}
