package docstore

import (
	"errors"
	"testing"
	"time"

	"github.com/vclip/render-pipeline/internal/types"
)

func boolPtr(b bool) *bool { return &b }

func TestPreconditionCheckExists(t *testing.T) {
	mustExist := Precondition{Exists: boolPtr(true)}
	if err := mustExist.check(false, time.Time{}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mustExist.check(true, time.Time{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	mustNotExist := Precondition{Exists: boolPtr(false)}
	if err := mustNotExist.check(true, time.Time{}); !errors.Is(err, types.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPreconditionCheckUpdateTime(t *testing.T) {
	now := time.Now()
	p := Precondition{UpdateTimeEquals: &now}

	if err := p.check(true, now); err != nil {
		t.Errorf("matching update_time should pass: %v", err)
	}
	if err := p.check(true, now.Add(time.Second)); !errors.Is(err, types.ErrPreconditionFailed) {
		t.Errorf("expected ErrPreconditionFailed, got %v", err)
	}
	// A document that doesn't exist has no update_time to compare against.
	if err := p.check(false, time.Time{}); err != nil {
		t.Errorf("update_time check should be skipped when the document doesn't exist: %v", err)
	}
}

func TestPreconditionZeroValueAlwaysPasses(t *testing.T) {
	var p Precondition
	if err := p.check(false, time.Time{}); err != nil {
		t.Errorf("zero-value precondition must never fail: %v", err)
	}
	if err := p.check(true, time.Now()); err != nil {
		t.Errorf("zero-value precondition must never fail: %v", err)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("clips"); got != `"clips"` {
		t.Errorf("quoteIdent(%q) = %q", "clips", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "clips_pkey"`)) {
		t.Error("expected a unique-violation message to be recognized")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("unrelated errors must not be treated as a unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil must not be treated as a unique violation")
	}
}
