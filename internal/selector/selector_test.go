package selector

import (
	"testing"

	"alertpipe/internal/notify"
)

func ch(name string, prio int, labels ...string) notify.ChannelProfile {
	return notify.ChannelProfile{Name: name, Priority: prio, Labels: labels}
}

func names(sel Selection) []string {
	out := make([]string, 0, len(sel.Channels))
	for _, c := range sel.Channels {
		out = append(out, c.Name)
	}
	return out
}

func TestSelectLabelFilter(t *testing.T) {
	t.Parallel()
	requested := []notify.ChannelProfile{
		ch("pager", 10, "paging", "urgent"),
		ch("chat", 5, "chat"),
		ch("mail", 1, "email", "urgent"),
	}

	sel := Select(Rule{RequiredLabels: []string{"urgent"}}, requested)
	if sel.FailedOpen {
		t.Fatal("filter matched channels, must not fail open")
	}
	got := names(sel)
	if len(got) != 2 || got[0] != "pager" || got[1] != "mail" {
		t.Fatalf("channels = %v, want [pager mail]", got)
	}
}

func TestSelectFailsOpenOnEmptyFilter(t *testing.T) {
	t.Parallel()
	requested := []notify.ChannelProfile{
		ch("chat", 5, "chat"),
		ch("mail", 1, "email"),
	}

	sel := Select(Rule{RequiredLabels: []string{"no-such-label"}}, requested)
	if !sel.FailedOpen {
		t.Fatal("expected FailedOpen when the filter empties the list")
	}
	if len(sel.Channels) != 2 {
		t.Fatalf("fail-open must keep all requested channels, got %v", names(sel))
	}
}

func TestSelectEmptyRequest(t *testing.T) {
	t.Parallel()
	sel := Select(Rule{RequiredLabels: []string{"urgent"}}, nil)
	if sel.FailedOpen || len(sel.Channels) != 0 {
		t.Fatalf("empty request: %+v", sel)
	}
}

func TestSelectPreferredOrder(t *testing.T) {
	t.Parallel()
	requested := []notify.ChannelProfile{
		ch("mail", 1),
		ch("pager", 2),
		ch("chat", 3),
	}

	sel := Select(Rule{PreferredOrder: []string{"pager", "chat"}}, requested)
	got := names(sel)
	if got[0] != "pager" || got[1] != "chat" || got[2] != "mail" {
		t.Fatalf("channels = %v, want [pager chat mail]", got)
	}
}

func TestSelectPriorityBreaksTies(t *testing.T) {
	t.Parallel()
	requested := []notify.ChannelProfile{
		ch("low", 1),
		ch("high", 9),
		ch("mid", 5),
	}

	// No preference table: everything ties, descending priority decides.
	sel := Select(Rule{}, requested)
	got := names(sel)
	if got[0] != "high" || got[1] != "mid" || got[2] != "low" {
		t.Fatalf("channels = %v, want [high mid low]", got)
	}
}

func TestSelectStableForEqualRank(t *testing.T) {
	t.Parallel()
	requested := []notify.ChannelProfile{
		ch("first", 5),
		ch("second", 5),
	}
	sel := Select(Rule{}, requested)
	got := names(sel)
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("equal rank must keep request order, got %v", got)
	}
}
