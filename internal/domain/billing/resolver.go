package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sagecare/sagecare/internal/domain/payer"
)

// RuleSource is the slice of the payer rule store that readiness evaluation
// needs.
type RuleSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*payer.Rule, error)
	FindMatching(ctx context.Context, payerID uuid.UUID, credential, placeOfService, serviceType string, serviceDate time.Time) ([]*payer.Rule, error)
}

// Resolver picks the governing rule for a service tuple. Resolution is
// deterministic: the same inputs against the same rule set always return the
// same rule.
type Resolver struct {
	rules  RuleSource
	logger zerolog.Logger
}

func NewResolver(rules RuleSource, logger zerolog.Logger) *Resolver {
	return &Resolver{rules: rules, logger: logger}
}

// Resolve returns the rule governing the tuple on serviceDate, or nil when no
// rule matches. When overlapping rules match, a configuration anomaly, the
// most recently created rule wins and the overlap is logged.
func (r *Resolver) Resolve(ctx context.Context, payerID uuid.UUID, credential, placeOfService, serviceType string, serviceDate time.Time) (*payer.Rule, error) {
	if payerID == uuid.Nil {
		return nil, fmt.Errorf("payer_id is required")
	}
	if credential == "" {
		return nil, fmt.Errorf("clinician_credential is required")
	}
	if placeOfService == "" {
		return nil, fmt.Errorf("place_of_service is required")
	}
	if serviceType == "" {
		return nil, fmt.Errorf("service_type is required")
	}
	if serviceDate.IsZero() {
		return nil, fmt.Errorf("service_date is required")
	}

	matches, err := r.rules.FindMatching(ctx, payerID, credential, placeOfService, serviceType, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("find matching rules: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID.String()
		}
		r.logger.Warn().
			Str("payer_id", payerID.String()).
			Str("credential", credential).
			Str("place_of_service", placeOfService).
			Str("service_type", serviceType).
			Time("service_date", serviceDate).
			Strs("rule_ids", ids).
			Str("winner_rule_id", matches[0].ID.String()).
			Msg("overlapping payer rules for tuple")
	}
	return matches[0], nil
}
