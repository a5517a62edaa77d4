// Package authz filters candidate actions down to what a specific recipient
// may actually perform, using an injected capability oracle.
//
// The deliberate tradeoff (availability over safety): a recipient that cannot
// be resolved to a known identity bypasses filtering entirely and the result
// is flagged Unverified so the caller can attach a disclaimer. An oracle
// error on an individual check likewise fails open, flagged Degraded for
// audit.
package authz

import (
	"context"

	"alertpipe/internal/notify"
	logx "alertpipe/pkg/logx"
)

// Oracle answers "can this identity perform this action". It is an external
// collaborator and treated as opaque; swap in a fake for tests.
type Oracle interface {
	// Resolve maps a channel-level recipient (address, handle, chat id) to a
	// known identity. ok=false means the recipient is unknown.
	Resolve(ctx context.Context, recipient string) (identity string, ok bool, err error)
	CanPerform(ctx context.Context, identity, actionID string) (bool, error)
}

// Result is the outcome of filtering one request's candidate actions.
type Result struct {
	Visible []notify.Action
	// Unverified is set when the recipient could not be resolved and filtering
	// was bypassed. Callers should disclaim.
	Unverified bool
	// Degraded is set when at least one capability check errored and failed
	// open. Flagged for audit.
	Degraded bool
}

// Filter checks each candidate action against the oracle. Denied actions are
// dropped, never rendered as disabled affordances.
func Filter(ctx context.Context, o Oracle, recipient string, actions []notify.Action, log logx.Logger) Result {
	visible := append([]notify.Action(nil), actions...)

	if o == nil {
		return Result{Visible: visible, Unverified: true}
	}

	identity, ok, err := o.Resolve(ctx, recipient)
	if err != nil || !ok {
		if err != nil {
			log.Warn("recipient resolution failed; authorization bypassed",
				logx.String("recipient", recipient), logx.Err(err))
		}
		return Result{Visible: visible, Unverified: true}
	}

	res := Result{Visible: visible[:0]}
	for _, a := range visible {
		allowed, err := o.CanPerform(ctx, identity, a.ID)
		if err != nil {
			// Fail open on oracle errors, but mark it.
			log.Warn("capability check failed; action shown unfiltered",
				logx.String("identity", identity), logx.String("action", a.ID), logx.Err(err))
			res.Degraded = true
			res.Visible = append(res.Visible, a)
			continue
		}
		if allowed {
			res.Visible = append(res.Visible, a)
		}
	}
	return res
}
