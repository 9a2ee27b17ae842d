package cache

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), time.Hour, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	return c
}

func TestKeyOrderIndependent(t *testing.T) {
	a := Key("query=golang", "limit=10", "source=feed")
	b := Key("source=feed", "query=golang", "limit=10")
	if a != b {
		t.Errorf("component order must not change the key: %s vs %s", a, b)
	}
}

func TestKeyDistinguishesComponents(t *testing.T) {
	if Key("query=golang") == Key("query=rust") {
		t.Error("different components must produce different keys")
	}
	if Key("a", "b") == Key("ab") {
		t.Error("component boundaries must be preserved")
	}
	if len(Key("x")) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(Key("x")))
	}
}

func TestGetSetRoundtrip(t *testing.T) {
	c := newTestCache(t)
	key := Key("roundtrip")
	want := json.RawMessage(`{"value": 42}`)

	if _, ok := c.Get(TierQuery, key); ok {
		t.Fatal("expected miss before set")
	}
	if err := c.Set(TierQuery, key, want); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, ok := c.Get(TierQuery, key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(got) != string(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestTiersAreIsolated(t *testing.T) {
	c := newTestCache(t)
	key := Key("shared")
	c.Set(TierQuery, key, json.RawMessage(`1`))

	if _, ok := c.Get(TierResult, key); ok {
		t.Error("a key set in one tier must not hit in another")
	}
}

func TestExpiredEntryIsMissAndEvicted(t *testing.T) {
	c := newTestCache(t)
	key := Key("expiring")
	c.Set(TierQuery, key, json.RawMessage(`"v"`))

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, ok := c.Get(TierQuery, key); ok {
		t.Fatal("expected expired entry to miss")
	}
	if _, err := os.Stat(c.path(TierQuery, key)); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected expired entry file to be evicted")
	}
}

func TestExternallyDeletedEntryIsMiss(t *testing.T) {
	c := newTestCache(t)
	key := Key("deleted")
	c.Set(TierQuery, key, json.RawMessage(`"v"`))

	os.Remove(c.path(TierQuery, key))

	if _, ok := c.Get(TierQuery, key); ok {
		t.Error("expected miss after external deletion")
	}
}

func TestCorruptEntryIsMissAndEvicted(t *testing.T) {
	c := newTestCache(t)
	key := Key("corrupt")
	os.WriteFile(c.path(TierQuery, key), []byte("{not json"), 0o644)

	if _, ok := c.Get(TierQuery, key); ok {
		t.Fatal("expected corrupt entry to miss")
	}
	if _, err := os.Stat(c.path(TierQuery, key)); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected corrupt entry file to be evicted")
	}
}

func TestGetOrComputeSingleCompute(t *testing.T) {
	c := newTestCache(t)
	key := Key("concurrent")

	var computes atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	results := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := c.GetOrCompute(TierArtifact, key, func() (json.RawMessage, error) {
				computes.Add(1)
				time.Sleep(10 * time.Millisecond)
				return json.RawMessage(`"computed"`), nil
			})
			if err != nil {
				t.Errorf("goroutine %d: %v", i, err)
				return
			}
			results[i] = string(v)
		}(i)
	}
	close(start)
	wg.Wait()

	if n := computes.Load(); n != 1 {
		t.Errorf("expected exactly one compute, got %d", n)
	}
	for i, r := range results {
		if r != `"computed"` {
			t.Errorf("goroutine %d got %q", i, r)
		}
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := newTestCache(t)
	key := Key("failing")

	boom := errors.New("compute failed")
	if _, err := c.GetOrCompute(TierQuery, key, func() (json.RawMessage, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}

	// A later compute must run again and can succeed.
	v, err := c.GetOrCompute(TierQuery, key, func() (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})
	if err != nil || string(v) != `"ok"` {
		t.Errorf("expected successful recompute, got %s, %v", v, err)
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t)
	c.Set(TierQuery, Key("a"), json.RawMessage(`1`))
	c.Set(TierQuery, Key("b"), json.RawMessage(`2`))
	c.Set(TierResult, Key("c"), json.RawMessage(`3`))

	if err := c.Clear(TierQuery); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, ok := c.Get(TierQuery, Key("a")); ok {
		t.Error("expected cleared tier to miss")
	}
	if _, ok := c.Get(TierResult, Key("c")); !ok {
		t.Error("clearing one tier must not touch another")
	}
}
