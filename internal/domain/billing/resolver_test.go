package billing

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sagecare/sagecare/internal/domain/payer"
)

func tupleRule(payerID uuid.UUID, createdAt time.Time) *payer.Rule {
	return &payer.Rule{
		ID:                  uuid.New(),
		PayerID:             payerID,
		ClinicianCredential: "LCSW",
		PlaceOfService:      "office",
		ServiceType:         "psychotherapy-45",
		IsActive:            true,
		EffectiveDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:           createdAt,
	}
}

func TestResolver_NoMatch(t *testing.T) {
	r := NewResolver(&mockRuleSource{}, zerolog.Nop())
	rule, err := r.Resolve(context.Background(), uuid.New(), "LCSW", "office", "psychotherapy-45",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule != nil {
		t.Errorf("expected nil rule, got %v", rule.ID)
	}
}

func TestResolver_ExactTupleMatch(t *testing.T) {
	payerID := uuid.New()
	match := tupleRule(payerID, time.Now())
	other := tupleRule(payerID, time.Now())
	other.ServiceType = "psychotherapy-60"
	src := &mockRuleSource{rules: []*payer.Rule{match, other}}
	r := NewResolver(src, zerolog.Nop())

	rule, err := r.Resolve(context.Background(), payerID, "LCSW", "office", "psychotherapy-45",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule == nil || rule.ID != match.ID {
		t.Errorf("expected exact tuple match")
	}
}

func TestResolver_RespectsEffectiveWindow(t *testing.T) {
	payerID := uuid.New()
	rule := tupleRule(payerID, time.Now())
	term := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	rule.TerminationDate = &term
	src := &mockRuleSource{rules: []*payer.Rule{rule}}
	r := NewResolver(src, zerolog.Nop())

	got, err := r.Resolve(context.Background(), payerID, "LCSW", "office", "psychotherapy-45",
		time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected no match after termination date")
	}
}

func TestResolver_NewestCreatedWinsOnOverlap(t *testing.T) {
	payerID := uuid.New()
	older := tupleRule(payerID, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := tupleRule(payerID, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	src := &mockRuleSource{rules: []*payer.Rule{older, newer}}
	r := NewResolver(src, zerolog.Nop())

	serviceDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rule, err := r.Resolve(context.Background(), payerID, "LCSW", "office", "psychotherapy-45", serviceDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule == nil || rule.ID != newer.ID {
		t.Error("expected the most recently created rule to win")
	}

	// resolution is deterministic across repeated calls
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), payerID, "LCSW", "office", "psychotherapy-45", serviceDate)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.ID != rule.ID {
			t.Fatal("expected identical result on repeated resolution")
		}
	}
}

func TestResolver_OverlapWarningListsAllRules(t *testing.T) {
	payerID := uuid.New()
	older := tupleRule(payerID, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := tupleRule(payerID, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	src := &mockRuleSource{rules: []*payer.Rule{older, newer}}

	var buf bytes.Buffer
	r := NewResolver(src, zerolog.New(&buf))

	if _, err := r.Resolve(context.Background(), payerID, "LCSW", "office", "psychotherapy-45",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log := buf.String()
	if !strings.Contains(log, "overlapping payer rules") {
		t.Fatalf("expected overlap warning, got %q", log)
	}
	// the log must identify every conflicting rule, not just the winner
	if !strings.Contains(log, older.ID.String()) || !strings.Contains(log, newer.ID.String()) {
		t.Errorf("expected both rule ids in warning, got %q", log)
	}
}

func TestResolver_InputValidation(t *testing.T) {
	r := NewResolver(&mockRuleSource{}, zerolog.Nop())
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		run  func() error
	}{
		{"missing payer", func() error {
			_, err := r.Resolve(context.Background(), uuid.Nil, "LCSW", "office", "x", date)
			return err
		}},
		{"missing credential", func() error {
			_, err := r.Resolve(context.Background(), uuid.New(), "", "office", "x", date)
			return err
		}},
		{"missing place of service", func() error {
			_, err := r.Resolve(context.Background(), uuid.New(), "LCSW", "", "x", date)
			return err
		}},
		{"missing service type", func() error {
			_, err := r.Resolve(context.Background(), uuid.New(), "LCSW", "office", "", date)
			return err
		}},
		{"missing service date", func() error {
			_, err := r.Resolve(context.Background(), uuid.New(), "LCSW", "office", "x", time.Time{})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.run() == nil {
				t.Error("expected validation error")
			}
		})
	}
}
