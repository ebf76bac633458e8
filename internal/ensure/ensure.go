// ABOUTME: Idempotent create-if-absent protocol for remote resource stores
// ABOUTME: Check-then-act with duplicate-create rejection folded into the existing path

package ensure

import (
	"context"
	"errors"
	"fmt"

	"github.com/funnelworks/funnel-gateway/internal/upstream"
)

// Outcome reports how the resource came to exist.
type Outcome int

const (
	// OutcomeExisting means the lookup found the resource; no write happened.
	OutcomeExisting Outcome = iota

	// OutcomeCreated means the lookup missed and a create was issued.
	OutcomeCreated
)

func (o Outcome) String() string {
	if o == OutcomeCreated {
		return "created"
	}
	return "existing"
}

// Exists runs the check-then-act upsert protocol: a point lookup, then a
// create only when the lookup reports not-found. There is no cross-call
// atomicity; two concurrent callers can both observe a miss. The backing
// store's uniqueness enforcement is the correctness backstop — a rejected
// duplicate create is treated as the pre-existing case.
//
// Any lookup failure other than not-found is fatal and no create is attempted.
func Exists(ctx context.Context, lookup func(context.Context) error, create func(context.Context) error) (Outcome, error) {
	err := lookup(ctx)
	if err == nil {
		return OutcomeExisting, nil
	}
	if !errors.Is(err, upstream.ErrNotFound) {
		return OutcomeExisting, fmt.Errorf("looking up resource: %w", err)
	}

	if err := create(ctx); err != nil {
		if upstream.IsDuplicateCreate(err) {
			// Lost the race to a concurrent create; the resource exists.
			return OutcomeExisting, nil
		}
		return OutcomeExisting, fmt.Errorf("creating resource: %w", err)
	}
	return OutcomeCreated, nil
}
