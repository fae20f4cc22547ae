package leave

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// BALANCE LEDGER - The only writer of Employee.RemainingLeave
// =============================================================================

// BalanceLedger applies the ledger effect of a resolved transition. It has a
// single entry point that takes the transaction, the request and the step, so
// a debit or credit can never be issued apart from the status write that
// caused it.
//
// Every applied movement is journaled with the idempotency key
// "<requestID>:debit" or "<requestID>:credit". The store rejects a duplicate
// key, so even a bug upstream cannot debit or credit one request twice.
type BalanceLedger struct {
	now   func() time.Time
	newID func() string
}

func NewBalanceLedger(now func() time.Time, newID func() string) *BalanceLedger {
	return &BalanceLedger{now: now, newID: newID}
}

// Apply performs step's ledger effect for r inside tx and returns the journal
// entry, or nil when the step has no effect on the balance. Apply does not
// check sufficiency and does not clamp; that is the state machine's job.
func (l *BalanceLedger) Apply(ctx context.Context, tx Tx, r *Request, step Step, actorID string) (*LedgerEntry, error) {
	if step.Noop || step.Effect == EffectNone || !r.LeaveType.ConsumesBalance() {
		return nil, nil
	}

	delta := r.DaysTaken
	kind := EntryCredit
	if step.Effect == EffectDebit {
		delta = -r.DaysTaken
		kind = EntryDebit
	}

	balance, err := tx.AdjustBalance(ctx, r.EmployeeID, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to %s balance: %w", kind, err)
	}

	entry := LedgerEntry{
		ID:             l.newID(),
		EmployeeID:     r.EmployeeID,
		RequestID:      r.ID,
		Kind:           kind,
		Delta:          delta,
		BalanceAfter:   balance,
		IdempotencyKey: IdempotencyKey(r.ID, kind),
		ActorID:        actorID,
		CreatedAt:      l.now().UTC(),
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to journal %s for request %s: %w", kind, r.ID, err)
	}
	return &entry, nil
}

// IdempotencyKey is the journal key of a request's debit or credit.
func IdempotencyKey(requestID string, kind EntryKind) string {
	return requestID + ":" + string(kind)
}
