package shape

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"alertpipe/internal/notify"
)

func sampleInput(summaryLen, rootLen int) Input {
	return Input{
		CorrelationID: "c-1",
		Severity:      notify.SeverityCritical,
		Content: notify.Content{
			AlertName: "db-replica-lag",
			Summary:   strings.Repeat("s", summaryLen),
			RootCause: strings.Repeat("r", rootLen),
			DetailURL: "https://runbook.example/db-replica-lag",
			Actions: []notify.Action{
				{ID: "restart-replica", Title: "Restart replica"},
				{ID: "failover", Title: "Fail over to standby"},
				{ID: "silence", Title: "Silence for 1h"},
			},
		},
	}
}

func decode(t *testing.T, body []byte) Payload {
	t.Helper()
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("decode shaped body: %v", err)
	}
	return p
}

func TestShapeUnderCeilingUntouched(t *testing.T) {
	t.Parallel()
	in := sampleInput(50, 50)

	got, err := Shape(in, 1<<20, notify.StrategyTruncate)
	if err != nil {
		t.Fatalf("Shape error: %v", err)
	}
	if got.Reduced {
		t.Fatal("payload under ceiling must not be reduced")
	}
	p := decode(t, got.Body)
	if p.Truncated {
		t.Fatal("truncated flag set on untouched payload")
	}
	if p.Summary != in.Content.Summary || len(p.Actions) != 3 {
		t.Fatalf("content altered: %+v", p)
	}
}

func TestShapeNoCeiling(t *testing.T) {
	t.Parallel()
	got, err := Shape(sampleInput(10_000, 0), 0, notify.StrategyReject)
	if err != nil {
		t.Fatalf("Shape error: %v", err)
	}
	if got.Size != len(got.Body) {
		t.Fatalf("Size = %d, body = %d", got.Size, len(got.Body))
	}
}

func TestShapeReject(t *testing.T) {
	t.Parallel()
	_, err := Shape(sampleInput(5_000, 0), 256, notify.StrategyReject)
	if !errors.Is(err, ErrOverLimit) {
		t.Fatalf("err = %v, want ErrOverLimit", err)
	}
}

func TestShapeTruncate(t *testing.T) {
	t.Parallel()
	const ceiling = 1024
	got, err := Shape(sampleInput(5_000, 100), ceiling, notify.StrategyTruncate)
	if err != nil {
		t.Fatalf("Shape error: %v", err)
	}
	if got.Size > ceiling {
		t.Fatalf("size %d exceeds ceiling %d", got.Size, ceiling)
	}
	if !got.Reduced {
		t.Fatal("expected Reduced")
	}
	p := decode(t, got.Body)
	if !p.Truncated {
		t.Fatal("truncated flag not set")
	}
	if !strings.HasSuffix(p.Summary, truncationMarker) {
		t.Fatalf("summary lost its truncation marker: %q", p.Summary[len(p.Summary)-30:])
	}
	// The shorter field survives untouched.
	if len(p.RootCause) != 100 {
		t.Fatalf("root cause trimmed prematurely: %d bytes", len(p.RootCause))
	}
}

func TestShapeTruncateShedsActions(t *testing.T) {
	t.Parallel()
	in := sampleInput(0, 0)
	for i := 0; i < 40; i++ {
		in.Content.Actions = append(in.Content.Actions, notify.Action{
			ID:    "bulk",
			Title: strings.Repeat("x", 40),
		})
	}

	got, err := Shape(in, 400, notify.StrategyTruncate)
	if err != nil {
		t.Fatalf("Shape error: %v", err)
	}
	p := decode(t, got.Body)
	if len(p.Actions) == 0 {
		t.Fatal("truncation must keep at least one action")
	}
	if len(p.Actions) >= 43 {
		t.Fatalf("no actions shed: %d", len(p.Actions))
	}
}

func TestShapeTiered(t *testing.T) {
	t.Parallel()
	const ceiling = 1024
	in := sampleInput(20_000, 25_000) // ~45KB of free text

	got, err := Shape(in, ceiling, notify.StrategyTiered)
	if err != nil {
		t.Fatalf("Shape error: %v", err)
	}
	if got.Size > ceiling {
		t.Fatalf("size %d exceeds ceiling %d", got.Size, ceiling)
	}
	p := decode(t, got.Body)
	if p.Alert != "db-replica-lag" {
		t.Fatalf("alert name lost: %q", p.Alert)
	}
	if p.Severity != notify.SeverityCritical {
		t.Fatalf("severity lost: %q", p.Severity)
	}
	// The hypothesis comes from root cause when present, shrunk to fit.
	if !strings.HasPrefix(p.Summary, "r") || !strings.HasSuffix(p.Summary, truncationMarker) {
		t.Fatalf("hypothesis malformed: %.40q...", p.Summary)
	}
	if len(p.Actions) != 1 || p.Actions[0].ID != "restart-replica" {
		t.Fatalf("expected first action only, got %+v", p.Actions)
	}
	if p.DetailURL == "" {
		t.Fatal("detail link dropped")
	}
	if p.RootCause != "" {
		t.Fatal("tiered header must not carry the full root cause")
	}
}

func TestShapeTieredImpossibleCeiling(t *testing.T) {
	t.Parallel()
	_, err := Shape(sampleInput(500, 500), 10, notify.StrategyTiered)
	if !errors.Is(err, ErrOverLimit) {
		t.Fatalf("err = %v, want ErrOverLimit", err)
	}
}

func TestShapeUnknownStrategy(t *testing.T) {
	t.Parallel()
	_, err := Shape(sampleInput(5_000, 0), 64, notify.Strategy("gzip"))
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if errors.Is(err, ErrOverLimit) {
		t.Fatal("unknown strategy must not masquerade as over-limit")
	}
}

func TestShrinkRuneSafe(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 200)
	out := shrink(s, 50)
	if !strings.HasSuffix(out, truncationMarker) {
		t.Fatalf("marker missing: %q", out)
	}
	if !json.Valid([]byte(`"` + out + `"`)) {
		// A split rune would produce invalid UTF-8 and break the encoding.
		t.Fatalf("shrink output is not valid in a JSON string: %q", out)
	}
	for _, r := range out {
		if r == 0xFFFD {
			t.Fatal("shrink split a rune")
		}
	}
}
