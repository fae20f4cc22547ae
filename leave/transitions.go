package leave

// =============================================================================
// TRANSITION TABLE - Every legal status change and its ledger effect
// =============================================================================

// Trigger is who asked for a transition.
type Trigger string

const (
	TriggerReview Trigger = "review" // approver decision
	TriggerCancel Trigger = "cancel" // owning employee
)

// LedgerEffect is what a transition does to the employee's balance.
// It only applies to leave types that consume balance.
type LedgerEffect int

const (
	EffectNone LedgerEffect = iota
	EffectDebit
	EffectCredit
)

func (e LedgerEffect) String() string {
	switch e {
	case EffectDebit:
		return "debit"
	case EffectCredit:
		return "credit"
	}
	return "none"
}

type edge struct {
	from    Status
	to      Status
	trigger Trigger
}

// transitions is exhaustive: an edge that is not listed is refused.
// Submission (-> PENDING) is not an edge; it creates the request.
var transitions = map[edge]LedgerEffect{
	{StatusPending, StatusCancelled, TriggerCancel}:  EffectNone,
	{StatusPending, StatusApproved, TriggerReview}:   EffectDebit,
	{StatusPending, StatusRejected, TriggerReview}:   EffectNone,
	{StatusApproved, StatusRejected, TriggerReview}:  EffectCredit,
	{StatusApproved, StatusCancelled, TriggerReview}: EffectCredit,
}

// Step is a resolved transition.
type Step struct {
	From    Status
	To      Status
	Trigger Trigger
	Effect  LedgerEffect
	// Noop marks a review that repeats the status the request already has.
	// Nothing is written and the ledger is untouched.
	Noop bool
}

// Resolve looks up the transition from -> to. A review that targets the
// current status resolves to a no-op so a repeated or racing decision never
// double-applies its ledger effect. Cancels have no no-op form: cancelling a
// request that is not PENDING is always refused.
func Resolve(requestID string, from, to Status, trigger Trigger) (Step, error) {
	if trigger == TriggerReview && from == to {
		return Step{From: from, To: to, Trigger: trigger, Noop: true}, nil
	}

	effect, ok := transitions[edge{from, to, trigger}]
	if !ok {
		return Step{}, &TransitionError{RequestID: requestID, From: from, To: to, Reason: refusal(from, trigger)}
	}
	return Step{From: from, To: to, Trigger: trigger, Effect: effect}, nil
}

func refusal(from Status, trigger Trigger) string {
	switch {
	case from.Terminal():
		return "request is " + string(from) + " and can no longer change"
	case trigger == TriggerCancel:
		return "only pending requests can be cancelled"
	}
	return "transition not allowed"
}

// ReviewDecisions are the statuses an approver may set.
// CANCELLED is only accepted as a reversal of an approval.
var ReviewDecisions = []Status{StatusApproved, StatusRejected, StatusCancelled}

func validDecision(s Status) bool {
	for _, d := range ReviewDecisions {
		if s == d {
			return true
		}
	}
	return false
}
