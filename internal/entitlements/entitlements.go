package entitlements

// State is a snapshot of a firm's billing eligibility. Pure value; recomputed
// on each authorization check.
type State struct {
	FounderOverride    bool `json:"founderOverride"`
	ActiveSubscription bool `json:"activeSubscription"`
	TrialRemaining     int  `json:"trialRemaining"`
	CreditsBalance     int  `json:"creditsBalance"`
}

// Decision reasons, in priority order.
const (
	ReasonFounderOverride    = "FOUNDER_OVERRIDE"
	ReasonActiveSubscription = "ACTIVE_SUBSCRIPTION"
	ReasonTrialAvailable     = "TRIAL_AVAILABLE"
	ReasonCreditsAvailable   = "CREDITS_AVAILABLE"
	ReasonNoEntitlements     = "NO_ENTITLEMENTS"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	State
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// CanGenerate reports whether any entitlement source permits a paid generation.
func CanGenerate(state State) bool {
	return state.FounderOverride ||
		state.ActiveSubscription ||
		state.TrialRemaining > 0 ||
		state.CreditsBalance > 0
}

// Resolve evaluates the entitlement sources in priority order: founder
// override, active subscription, trial, credits.
func Resolve(state State) Decision {
	switch {
	case state.FounderOverride:
		return Decision{State: state, Allowed: true, Reason: ReasonFounderOverride}
	case state.ActiveSubscription:
		return Decision{State: state, Allowed: true, Reason: ReasonActiveSubscription}
	case state.TrialRemaining > 0:
		return Decision{State: state, Allowed: true, Reason: ReasonTrialAvailable}
	case state.CreditsBalance > 0:
		return Decision{State: state, Allowed: true, Reason: ReasonCreditsAvailable}
	default:
		return Decision{State: state, Allowed: false, Reason: ReasonNoEntitlements}
	}
}

// Consume returns the state after one paid generation. Unlimited sources
// (founder override, subscription) are untouched; otherwise trial is drawn
// down before credits. Consuming an exhausted state is a no-op.
func Consume(state State) State {
	if state.FounderOverride || state.ActiveSubscription {
		return state
	}
	if state.TrialRemaining > 0 {
		state.TrialRemaining--
		return state
	}
	if state.CreditsBalance > 0 {
		state.CreditsBalance--
		return state
	}
	return state
}

// Unlimited reports whether consuming should skip persistence entirely.
func Unlimited(state State) bool {
	return state.FounderOverride || state.ActiveSubscription
}

// Summary describes a firm's entitlement position for display.
type Summary struct {
	Type           string `json:"type"`
	Label          string `json:"label"`
	Remaining      int    `json:"remaining"`
	NearLimit      bool   `json:"nearLimit"`
	TrialRemaining int    `json:"trialRemaining"`
	CreditsBalance int    `json:"creditsBalance"`
}

// Summarize maps a state to its display summary. The near-limit flag trips
// when a metered source has exactly one use left.
func Summarize(state State) Summary {
	decision := Resolve(state)
	summary := Summary{
		TrialRemaining: state.TrialRemaining,
		CreditsBalance: state.CreditsBalance,
	}
	switch decision.Reason {
	case ReasonFounderOverride:
		summary.Type = "founder"
		summary.Label = "Founder access"
		summary.Remaining = -1
	case ReasonActiveSubscription:
		summary.Type = "subscription"
		summary.Label = "Active subscription"
		summary.Remaining = -1
	case ReasonTrialAvailable:
		summary.Type = "trial"
		summary.Label = "Free trial"
		summary.Remaining = state.TrialRemaining
		summary.NearLimit = state.TrialRemaining == 1 && state.CreditsBalance == 0
	case ReasonCreditsAvailable:
		summary.Type = "credits"
		summary.Label = "Review credits"
		summary.Remaining = state.CreditsBalance
		summary.NearLimit = state.CreditsBalance == 1
	default:
		summary.Type = "none"
		summary.Label = "No entitlements remaining"
		summary.Remaining = 0
	}
	return summary
}
