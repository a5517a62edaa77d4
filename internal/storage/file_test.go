package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "alertpipe/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	until := time.Now().Add(10 * time.Minute).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, "fp-1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}

	got, ok, err := st.GetDedup(ctx, "fp-1")
	if err != nil || !ok {
		t.Fatalf("GetDedup = %v, %v, %v", got, ok, err)
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}

	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatal("unknown key reported as present")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store")
	ctx := context.Background()
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.PutDedup(ctx, "fp-persist", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, ok, err := st2.GetDedup(ctx, "fp-persist")
	if err != nil || !ok {
		t.Fatalf("GetDedup after reopen = %v, %v, %v", got, ok, err)
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}
}

func TestFileStoreDropsExpiredOnLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.PutDedup(ctx, "fp-stale", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	_ = st.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	if _, ok, _ := st2.GetDedup(ctx, "fp-stale"); ok {
		t.Fatal("expired window must be pruned on load")
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got %v, %v, want nil store", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}

func TestOpenFileRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path must error")
	}
}
