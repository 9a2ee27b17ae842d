package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/docpipe/internal/model"
	"github.com/TobiSchelling/docpipe/internal/retry"
)

type fakeBackend struct {
	name      string
	available bool
	text      string
	err       error
	calls     int
}

func (b *fakeBackend) Name() string    { return b.name }
func (b *fakeBackend) Available() bool { return b.available }
func (b *fakeBackend) Convert(context.Context, *model.Document) (string, error) {
	b.calls++
	return b.text, b.err
}

// goodText scores 0.5 exactly with ExpectedLength 1000: full length
// credit, no structure or marker credit.
var goodText = strings.TrimSpace(strings.Repeat("word ", 250))

func newTestChain(minQuality float64, backends ...Backend) *Chain {
	exec := retry.New(1, time.Millisecond, time.Millisecond, 0)
	return NewChain(backends, NewScorer(1000), exec, minQuality)
}

func testDoc() *model.Document {
	return &model.Document{URL: "https://example.com/doc", Body: []byte("<p>hi</p>")}
}

func TestChainFirstQualifyingWins(t *testing.T) {
	b1 := &fakeBackend{name: "first", available: true, text: goodText}
	b2 := &fakeBackend{name: "second", available: true, text: goodText}
	c := newTestChain(0.5, b1, b2)

	attempt := c.Convert(context.Background(), testDoc())

	if !attempt.Success {
		t.Fatalf("expected success, got error %v", attempt.Err)
	}
	if attempt.Backend != "first" {
		t.Errorf("expected first backend to win, got %s", attempt.Backend)
	}
	if b2.calls != 0 {
		t.Errorf("later backends must not run after a qualifying result, got %d calls", b2.calls)
	}
	if attempt.Text == "" {
		t.Error("successful attempt must carry text")
	}
}

func TestChainFallsThroughOnFailure(t *testing.T) {
	b1 := &fakeBackend{name: "broken", available: true, err: errors.New("parse failure")}
	b2 := &fakeBackend{name: "working", available: true, text: goodText}
	c := newTestChain(0.5, b1, b2)

	attempt := c.Convert(context.Background(), testDoc())

	if !attempt.Success || attempt.Backend != "working" {
		t.Fatalf("expected fallthrough to working backend, got %+v", attempt)
	}
	if b1.calls == 0 {
		t.Error("first backend should have been tried")
	}
}

func TestChainBestPartialWhenNoneQualify(t *testing.T) {
	short := strings.TrimSpace(strings.Repeat("w ", 40)) // ~80 chars, low score
	longer := strings.TrimSpace(strings.Repeat("word ", 80))

	b1 := &fakeBackend{name: "weak", available: true, text: short}
	b2 := &fakeBackend{name: "stronger", available: true, text: longer}
	c := newTestChain(0.9, b1, b2)

	attempt := c.Convert(context.Background(), testDoc())

	if !attempt.Success {
		t.Fatalf("expected best partial result, got error %v", attempt.Err)
	}
	if attempt.Backend != "stronger" {
		t.Errorf("expected highest-scoring partial, got %s (%.2f)", attempt.Backend, attempt.Quality)
	}
	if attempt.Quality >= 0.9 {
		t.Errorf("partial must be below threshold, got %.2f", attempt.Quality)
	}
}

func TestChainAllBackendsFail(t *testing.T) {
	b1 := &fakeBackend{name: "a", available: true, err: errors.New("a broke")}
	b2 := &fakeBackend{name: "b", available: true, err: errors.New("b broke")}
	c := newTestChain(0.5, b1, b2)

	attempt := c.Convert(context.Background(), testDoc())

	if attempt.Success {
		t.Fatal("expected failed attempt")
	}
	if attempt.Err == nil {
		t.Fatal("failed attempt must carry an error")
	}
	if attempt.Text != "" {
		t.Error("failed attempt must not carry text")
	}
}

func TestChainEmptyOutputIsFailure(t *testing.T) {
	b := &fakeBackend{name: "empty", available: true, text: ""}
	c := newTestChain(0.5, b)

	attempt := c.Convert(context.Background(), testDoc())

	if attempt.Success {
		t.Fatal("empty text must never be a success")
	}
	if !errors.Is(attempt.Err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", attempt.Err)
	}
}

func TestChainSkipsUnavailableBackends(t *testing.T) {
	b1 := &fakeBackend{name: "offline", available: false, text: goodText}
	b2 := &fakeBackend{name: "online", available: true, text: goodText}
	c := newTestChain(0.5, b1, b2)

	if names := c.Backends(); len(names) != 1 || names[0] != "online" {
		t.Fatalf("expected only the available backend, got %v", names)
	}

	attempt := c.Convert(context.Background(), testDoc())
	if b1.calls != 0 {
		t.Error("unavailable backend must never be called")
	}
	if attempt.Backend != "online" {
		t.Errorf("expected online backend, got %s", attempt.Backend)
	}
}

func TestChainConvertErrorsAreNotRetried(t *testing.T) {
	b := &fakeBackend{name: "flaky", available: true, err: errors.New("bad markup")}
	exec := retry.New(5, time.Millisecond, time.Millisecond, 0)
	c := NewChain([]Backend{b}, NewScorer(1000), exec, 0.5)

	c.Convert(context.Background(), testDoc())

	if b.calls != 1 {
		t.Errorf("conversion is deterministic and must not retry, got %d calls", b.calls)
	}
}
