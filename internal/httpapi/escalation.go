package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"metagate.io/internal/audit"
	"metagate.io/internal/entitlement"
	"metagate.io/internal/identity"
	"metagate.io/internal/obs"
	"metagate.io/internal/risk"
)

// Block response codes. Every blocked request answers 429; the code tells
// the client which remediation applies.
const (
	codeQuotaExceeded     = "QUOTA_EXCEEDED"
	codeHighRiskChallenge = "HIGH_RISK_CHALLENGE_REQUIRED"
	codeModerateRiskDelay = "MODERATE_RISK_DELAY_REQUIRED"
	codeSuspiciousDevice  = "SUSPICIOUS_DEVICE"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

type blockResponse struct {
	Error        string         `json:"error"`
	Message      string         `json:"message"`
	Code         string         `json:"code"`
	RetryAfter   int            `json:"retryAfter"`
	RiskAnalysis *risk.Analysis `json:"riskAnalysis,omitempty"`
}

// escalate answers a blocked request. The risk level picks the response
// shape; every evaluation is audited before the response is written.
func (a *API) escalate(w http.ResponseWriter, r *http.Request, tok identity.Token, decision entitlement.Decision) {
	signals := a.Tracker.Signals(tok.ID, tok.Age(timeNow()))
	analysis := risk.Evaluate(signals)
	obs.CountRiskEvaluation(string(analysis.RiskLevel))

	resp := blockFor(analysis)

	a.Audit.Append(r.Context(), audit.Event{
		Severity: severityFor(analysis.RiskLevel),
		Actor:    tok.ID,
		Action:   "access.blocked",
		Details: map[string]any{
			"code":       resp.Code,
			"reason":     decision.Reason,
			"risk_score": analysis.RiskScore,
			"risk_level": analysis.RiskLevel,
			"ip":         clientIP(r),
		},
	})
	if analysis.RiskLevel == risk.LevelCritical {
		// Operator-facing alert; the audit buffer alone is too quiet for
		// critical risk.
		obs.LogRequest(map[string]any{
			"level":    "error",
			"msg":      "critical risk identity blocked",
			"identity": tok.ID,
			"score":    analysis.RiskScore,
			"factors":  analysis.ContributingFactors,
		})
	}

	w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	writeJSON(w, http.StatusTooManyRequests, resp)
}

func blockFor(analysis risk.Analysis) blockResponse {
	switch analysis.RiskLevel {
	case risk.LevelCritical:
		top := analysis
		top.ContributingFactors = analysis.TopFactors(3)
		return blockResponse{
			Error:        "challenge_required",
			Message:      "Complete the verification challenge to continue.",
			Code:         codeHighRiskChallenge,
			RetryAfter:   300,
			RiskAnalysis: &top,
		}
	case risk.LevelHigh:
		return blockResponse{
			Error:        "delay_required",
			Message:      "Too many requests. Wait before retrying.",
			Code:         codeModerateRiskDelay,
			RetryAfter:   60,
			RiskAnalysis: &analysis,
		}
	case risk.LevelMedium:
		return blockResponse{
			Error:      "suspicious_device",
			Message:    "Requests from this device are temporarily limited.",
			Code:       codeSuspiciousDevice,
			RetryAfter: 300,
		}
	default:
		return blockResponse{
			Error:      "quota_exceeded",
			Message:    "Free quota exhausted. Purchase credits for full access.",
			Code:       codeQuotaExceeded,
			RetryAfter: 86400,
		}
	}
}

func severityFor(level risk.Level) audit.Severity {
	switch level {
	case risk.LevelCritical:
		return audit.SeverityCritical
	case risk.LevelHigh:
		return audit.SeverityError
	case risk.LevelMedium:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}
