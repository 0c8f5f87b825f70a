// Package policy decides whether the exit-intent popup may be shown to a visitor.
//
// Evaluate is pure: it never touches storage. When a decision says the stored
// state is stale, the caller is responsible for clearing it.
package policy

import (
	"time"

	"github.com/salesboost/exitintent/internal/model"
)

// Reason explains an eligibility decision. Useful in logs and API responses.
type Reason string

const (
	ReasonFresh           Reason = "fresh"
	ReasonCooldown        Reason = "cooldown"
	ReasonCooldownElapsed Reason = "cooldown_elapsed"
	ReasonShown           Reason = "shown"
	ReasonShownExpired    Reason = "shown_expired"
	ReasonIncomplete      Reason = "incomplete"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Eligible bool
	// ClearState is set when the stored state has timed out and must be removed.
	ClearState bool
	Reason     Reason
}

// Evaluate maps a visitor's state to an eligibility decision.
//
//	nil state                         -> eligible
//	converted, cooldown running       -> not eligible
//	converted, cooldown elapsed       -> eligible, clear
//	shown, now <= expires_at          -> not eligible
//	shown, now >  expires_at          -> eligible, clear
//	anything else                     -> not eligible
//
// A conversion takes precedence over the shown window.
func Evaluate(state *model.VisitorState, now time.Time, cooldown time.Duration) Decision {
	if state == nil {
		return Decision{Eligible: true, Reason: ReasonFresh}
	}

	if state.ConvertedAt != nil {
		if now.Sub(*state.ConvertedAt) > cooldown {
			return Decision{Eligible: true, ClearState: true, Reason: ReasonCooldownElapsed}
		}
		return Decision{Eligible: false, Reason: ReasonCooldown}
	}

	if state.ShownAt != nil {
		if state.ExpiresAt != nil && now.After(*state.ExpiresAt) {
			return Decision{Eligible: true, ClearState: true, Reason: ReasonShownExpired}
		}
		return Decision{Eligible: false, Reason: ReasonShown}
	}

	// State without a shown marker was never written by MarkShown; refuse.
	return Decision{Eligible: false, Reason: ReasonIncomplete}
}
