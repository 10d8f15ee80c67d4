// Package risk scores abuse likelihood for an identity from recent
// behavioral signals. Scores range 0-100; levels gate the escalation
// response chosen when a blocked request is answered.
package risk

import (
	"fmt"
	"time"
)

// Level buckets a risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Signals are the inputs to one evaluation, derived from the identity's
// recent-activity window plus the presented device token.
type Signals struct {
	DistinctIPs      int
	TokenAge         time.Duration
	RequestsLastHour int
	FailedAttempts   int
	GeoAnomaly       bool
	UAAnomaly        bool
}

// Analysis is the result of scoring one identity.
type Analysis struct {
	RiskScore           int      `json:"riskScore"`
	RiskLevel           Level    `json:"riskLevel"`
	ContributingFactors []string `json:"contributingFactors"`
	Confidence          float64  `json:"confidence"`
}

const (
	baseConfidence = 0.5
	maxConfidence  = 0.95
)

// Evaluate applies the additive scoring table to the signals. The score is
// clamped to [0,100]; confidence starts at 0.5 and grows with each
// corroborating signal, more for signals at their strongest tier.
func Evaluate(s Signals) Analysis {
	score := 0
	var factors []string
	confidence := baseConfidence

	add := func(points int, top bool, factor string) {
		score += points
		factors = append(factors, factor)
		if top {
			confidence += 0.2
		} else {
			confidence += 0.1
		}
	}

	switch {
	case s.DistinctIPs > 5:
		add(25, true, fmt.Sprintf("%d distinct IPs in the last hour", s.DistinctIPs))
	case s.DistinctIPs > 3:
		add(15, false, fmt.Sprintf("%d distinct IPs in the last hour", s.DistinctIPs))
	case s.DistinctIPs > 1:
		add(5, false, fmt.Sprintf("%d distinct IPs in the last hour", s.DistinctIPs))
	}

	age := int(s.TokenAge / time.Second)
	switch {
	case age >= 0 && age < 60:
		add(20, true, fmt.Sprintf("device token only %ds old", age))
	case age < 300:
		add(10, false, fmt.Sprintf("device token only %ds old", age))
	}

	switch {
	case s.RequestsLastHour > 20:
		add(25, true, fmt.Sprintf("%d requests in the last hour", s.RequestsLastHour))
	case s.RequestsLastHour > 10:
		add(15, false, fmt.Sprintf("%d requests in the last hour", s.RequestsLastHour))
	case s.RequestsLastHour > 5:
		add(5, false, fmt.Sprintf("%d requests in the last hour", s.RequestsLastHour))
	}

	switch {
	case s.FailedAttempts > 10:
		add(15, true, fmt.Sprintf("%d failed attempts", s.FailedAttempts))
	case s.FailedAttempts > 5:
		add(8, false, fmt.Sprintf("%d failed attempts", s.FailedAttempts))
	case s.FailedAttempts > 2:
		add(3, false, fmt.Sprintf("%d failed attempts", s.FailedAttempts))
	}

	if s.GeoAnomaly {
		add(10, false, "requests from geographically implausible IP spread")
	}
	if s.UAAnomaly {
		add(5, false, "automation markers in user agent")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	return Analysis{
		RiskScore:           score,
		RiskLevel:           levelFor(score),
		ContributingFactors: factors,
		Confidence:          confidence,
	}
}

func levelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

// TopFactors returns up to n contributing factors for surfacing in
// challenge responses.
func (a Analysis) TopFactors(n int) []string {
	if n <= 0 || n >= len(a.ContributingFactors) {
		return a.ContributingFactors
	}
	return a.ContributingFactors[:n]
}
