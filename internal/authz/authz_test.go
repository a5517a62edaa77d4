package authz

import (
	"context"
	"errors"
	"testing"

	"alertpipe/internal/notify"
	logx "alertpipe/pkg/logx"
)

type fakeOracle struct {
	identities map[string]string
	allowed    map[string]bool
	resolveErr error
	checkErr   map[string]error
}

func (f *fakeOracle) Resolve(_ context.Context, recipient string) (string, bool, error) {
	if f.resolveErr != nil {
		return "", false, f.resolveErr
	}
	id, ok := f.identities[recipient]
	return id, ok, nil
}

func (f *fakeOracle) CanPerform(_ context.Context, _, actionID string) (bool, error) {
	if err := f.checkErr[actionID]; err != nil {
		return false, err
	}
	return f.allowed[actionID], nil
}

var actions = []notify.Action{
	{ID: "restart", Title: "Restart service"},
	{ID: "rollback", Title: "Roll back deploy"},
	{ID: "silence", Title: "Silence alert"},
}

func TestFilterDropsDenied(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{
		identities: map[string]string{"ops@example.com": "u1"},
		allowed:    map[string]bool{"restart": true, "silence": true},
	}

	res := Filter(context.Background(), o, "ops@example.com", actions, logx.Nop())
	if res.Unverified || res.Degraded {
		t.Fatalf("unexpected flags: %+v", res)
	}
	if len(res.Visible) != 2 {
		t.Fatalf("visible = %d, want 2 (%+v)", len(res.Visible), res.Visible)
	}
	for _, a := range res.Visible {
		if a.ID == "rollback" {
			t.Fatal("denied action leaked through")
		}
	}
}

func TestFilterUnknownRecipientBypasses(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{identities: map[string]string{}}

	res := Filter(context.Background(), o, "stranger", actions, logx.Nop())
	if !res.Unverified {
		t.Fatal("expected Unverified for unknown recipient")
	}
	if len(res.Visible) != len(actions) {
		t.Fatalf("bypass must keep all actions, got %d", len(res.Visible))
	}
}

func TestFilterResolveErrorBypasses(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{resolveErr: errors.New("directory down")}

	res := Filter(context.Background(), o, "ops@example.com", actions, logx.Nop())
	if !res.Unverified {
		t.Fatal("expected Unverified on resolve error")
	}
	if len(res.Visible) != len(actions) {
		t.Fatalf("bypass must keep all actions, got %d", len(res.Visible))
	}
}

func TestFilterCheckErrorFailsOpen(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{
		identities: map[string]string{"ops@example.com": "u1"},
		allowed:    map[string]bool{"restart": true},
		checkErr:   map[string]error{"rollback": errors.New("oracle timeout")},
	}

	res := Filter(context.Background(), o, "ops@example.com", actions, logx.Nop())
	if !res.Degraded {
		t.Fatal("expected Degraded when a check errors")
	}
	if res.Unverified {
		t.Fatal("resolved recipient must not be Unverified")
	}
	got := map[string]bool{}
	for _, a := range res.Visible {
		got[a.ID] = true
	}
	if !got["restart"] || !got["rollback"] {
		t.Fatalf("visible = %v, want restart and failed-open rollback", got)
	}
	if got["silence"] {
		t.Fatal("cleanly denied action must stay hidden")
	}
}

func TestFilterNilOracle(t *testing.T) {
	t.Parallel()
	res := Filter(context.Background(), nil, "anyone", actions, logx.Nop())
	if !res.Unverified {
		t.Fatal("nil oracle must mark the result Unverified")
	}
	if len(res.Visible) != len(actions) {
		t.Fatalf("visible = %d, want %d", len(res.Visible), len(actions))
	}
}

func TestFilterNoActions(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{identities: map[string]string{"ops@example.com": "u1"}}
	res := Filter(context.Background(), o, "ops@example.com", nil, logx.Nop())
	if len(res.Visible) != 0 {
		t.Fatalf("visible = %v, want none", res.Visible)
	}
}
