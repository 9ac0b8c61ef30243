package identity

import (
	"context"
	"time"

	dErrors "aegis/pkg/domain-errors"
	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// TrustEvaluator is the pluggable scorer spec.md §4.6 names: recomputes
// a Context's trust score from its attribute set, sensitivity
// distribution, and evidence quality whenever an attribute is verified.
type TrustEvaluator interface {
	Evaluate(ctx context.Context, attributes []*Attribute) (score float64, err error)
}

// Reverifier runs an out-of-band re-verification task when an attribute's
// sensitivity reaches high/critical or its verified value is mutated.
// Per spec.md §4.6 this is offloaded and its failure must never
// propagate back to the caller of AddAttribute/UpdateAttribute.
type Reverifier interface {
	ScheduleReverification(ctx context.Context, tenantID id.TenantID, attributeID id.AttributeID)
}

// Service implements the identity-graph operations spec.md §4.6 names.
type Service struct {
	store      Store
	evaluator  TrustEvaluator
	reverifier Reverifier
}

// Option configures a Service.
type Option func(*Service)

func WithTrustEvaluator(e TrustEvaluator) Option {
	return func(s *Service) { s.evaluator = e }
}

func WithReverifier(r Reverifier) Option {
	return func(s *Service) { s.reverifier = r }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePerson starts a new master Person record.
func (s *Service) CreatePerson(ctx context.Context, tenantID id.TenantID) (*Person, error) {
	now := time.Now()
	p := &Person{
		ID:        id.NewPersonID(),
		TenantID:  tenantID,
		Status:    PersonActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateIdentity enforces the (tenant, primary-key-type, primary-key-value)
// uniqueness invariant and starts the Identity active, per spec.md §4.6.
func (s *Service) CreateIdentity(ctx context.Context, tenantID id.TenantID, personID id.PersonID, keyType PrimaryKeyType, keyValue string) (*Identity, error) {
	if keyValue == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "primary key value is required")
	}
	now := time.Now()
	i := &Identity{
		ID:              id.NewIdentityID(),
		TenantID:        tenantID,
		PersonID:        personID,
		PrimaryKeyType:  keyType,
		PrimaryKeyValue: keyValue,
		Status:          IdentityActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateIdentity(ctx, i); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "identity already exists for this primary key")
		}
		return nil, err
	}
	return i, nil
}

func (s *Service) GetIdentity(ctx context.Context, tenantID id.TenantID, identityID id.IdentityID) (*Identity, error) {
	i, err := s.store.GetIdentity(ctx, tenantID, identityID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	return i, err
}

func (s *Service) ListIdentities(ctx context.Context, tenantID id.TenantID, personID id.PersonID) ([]*Identity, error) {
	return s.store.ListIdentitiesByPerson(ctx, tenantID, personID)
}

// AddContext creates a new role-scoped Context for an identity. When
// copyFrom is non-nil, its attributes are copied over, demoted to
// pending verification where sensitivity ≥ high per spec.md §4.6.
func (s *Service) AddContext(ctx context.Context, tenantID id.TenantID, identityID id.IdentityID, contextType ContextType, copyFrom id.ContextID) (*Context, error) {
	if _, err := s.store.GetIdentity(ctx, tenantID, identityID); err != nil {
		if err == sentinel.ErrNotFound {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, err
	}

	now := time.Now()
	c := &Context{
		ID:          id.NewContextID(),
		TenantID:    tenantID,
		IdentityID:  identityID,
		ContextType: contextType,
		TrustScore:  0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateContext(ctx, c); err != nil {
		return nil, err
	}

	if copyFrom.IsNil() {
		return c, nil
	}

	sourceAttrs, err := s.store.ListAttributesByContext(ctx, tenantID, copyFrom)
	if err != nil {
		return nil, err
	}
	for _, src := range sourceAttrs {
		status := src.VerificationStatus
		verifiedAt := src.VerifiedAt
		if src.Sensitivity.RequiresReverification() {
			status = VerificationStatusPending
			verifiedAt = nil
		}
		copied := &Attribute{
			ID:                 id.NewAttributeID(),
			TenantID:           tenantID,
			ContextID:          c.ID,
			Key:                src.Key,
			Value:              src.Value,
			Sensitivity:        src.Sensitivity,
			VerificationStatus: status,
			VerificationSource: src.VerificationSource,
			VerificationNotes:  src.VerificationNotes,
			EvidenceMetadata:   src.EvidenceMetadata,
			VerifiedAt:         verifiedAt,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.store.CreateAttribute(ctx, copied); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *Service) GetContext(ctx context.Context, tenantID id.TenantID, contextID id.ContextID) (*Context, error) {
	c, err := s.store.GetContext(ctx, tenantID, contextID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "context not found")
	}
	return c, err
}

func (s *Service) ListContexts(ctx context.Context, tenantID id.TenantID, identityID id.IdentityID) ([]*Context, error) {
	return s.store.ListContextsByIdentity(ctx, tenantID, identityID)
}

// AddAttribute attaches a new key/value fact to a Context, unverified
// until VerifyAttribute is called.
func (s *Service) AddAttribute(ctx context.Context, tenantID id.TenantID, contextID id.ContextID, key, value string, sensitivity Sensitivity) (*Attribute, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attribute key is required")
	}
	if _, err := s.store.GetContext(ctx, tenantID, contextID); err != nil {
		if err == sentinel.ErrNotFound {
			return nil, dErrors.New(dErrors.CodeNotFound, "context not found")
		}
		return nil, err
	}

	now := time.Now()
	a := &Attribute{
		ID:                 id.NewAttributeID(),
		TenantID:           tenantID,
		ContextID:          contextID,
		Key:                key,
		Value:              value,
		Sensitivity:        sensitivity,
		VerificationStatus: VerificationStatusUnverified,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateAttribute(ctx, a); err != nil {
		return nil, err
	}
	s.maybeScheduleReverification(ctx, tenantID, a)
	return a, nil
}

// UpdateAttribute mutates an attribute's value. Per spec.md §4.6, doing
// so on a verified attribute forces its verification status back to
// pending and schedules re-verification regardless of sensitivity.
func (s *Service) UpdateAttribute(ctx context.Context, tenantID id.TenantID, attributeID id.AttributeID, newValue string) (*Attribute, error) {
	a, err := s.store.GetAttribute(ctx, tenantID, attributeID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "attribute not found")
	}
	if err != nil {
		return nil, err
	}

	wasVerified := a.VerificationStatus == VerificationStatusVerified
	a.Value = newValue
	if wasVerified {
		a.VerificationStatus = VerificationStatusPending
		a.VerifiedAt = nil
	}
	a.UpdatedAt = time.Now()

	if err := s.store.SaveAttribute(ctx, a); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "attribute was modified concurrently")
		}
		return nil, err
	}
	if wasVerified {
		s.scheduleReverification(ctx, tenantID, a.ID)
	} else {
		s.maybeScheduleReverification(ctx, tenantID, a)
	}
	return a, nil
}

// VerifyAttribute records a verification outcome and recomputes the
// owning Context's trust score via the pluggable TrustEvaluator.
func (s *Service) VerifyAttribute(ctx context.Context, tenantID id.TenantID, attributeID id.AttributeID, source, notes string, evidence map[string]any) (*Attribute, error) {
	if source == "" {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "verification_source_required")
	}
	a, err := s.store.GetAttribute(ctx, tenantID, attributeID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "attribute not found")
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	a.VerificationStatus = VerificationStatusVerified
	a.VerificationSource = source
	a.VerificationNotes = notes
	a.EvidenceMetadata = evidence
	a.VerifiedAt = &now
	a.UpdatedAt = now
	if err := s.store.SaveAttribute(ctx, a); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "attribute was modified concurrently")
		}
		return nil, err
	}

	if s.evaluator != nil {
		siblings, err := s.store.ListAttributesByContext(ctx, tenantID, a.ContextID)
		if err == nil {
			if score, evalErr := s.evaluator.Evaluate(ctx, siblings); evalErr == nil {
				_, _ = s.UpdateContextTrustScore(ctx, tenantID, a.ContextID, score, "attribute_verified")
			}
		}
	}
	return a, nil
}

// UpdateContextVerificationLevel is monotone: moving to a lower level
// is refused with precondition_failed(verification_level_regression)
// and no state change, per spec.md §4.6/§9.
func (s *Service) UpdateContextVerificationLevel(ctx context.Context, tenantID id.TenantID, contextID id.ContextID, level VerificationLevel) (*Context, error) {
	c, err := s.store.GetContext(ctx, tenantID, contextID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "context not found")
	}
	if err != nil {
		return nil, err
	}
	if level < c.VerificationLevel {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "verification_level_regression")
	}
	if level == c.VerificationLevel {
		return c, nil
	}
	c.VerificationLevel = level
	c.UpdatedAt = time.Now()
	if err := s.store.SaveContext(ctx, c); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "context was modified concurrently")
		}
		return nil, err
	}
	return c, nil
}

// UpdateContextTrustScore records a history entry on every call and
// raises significant_trust_degradation when the score drops by at
// least 0.2 and lands below 0.4, per spec.md §4.6.
func (s *Service) UpdateContextTrustScore(ctx context.Context, tenantID id.TenantID, contextID id.ContextID, score float64, reason string) (*Context, error) {
	if score < 0 || score > 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "trust score must be within [0,1]")
	}
	c, err := s.store.GetContext(ctx, tenantID, contextID)
	if err == sentinel.ErrNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "context not found")
	}
	if err != nil {
		return nil, err
	}

	previous := c.TrustScore
	c.TrustScore = score
	c.TrustHistory = append(c.TrustHistory, TrustScoreEntry{Score: score, Reason: reason, RecordedAt: time.Now()})
	if len(c.TrustHistory) > trustHistoryLimit {
		c.TrustHistory = c.TrustHistory[len(c.TrustHistory)-trustHistoryLimit:]
	}
	if previous-score >= significantDegradationDelta && score < significantDegradationFloor {
		c.FlaggedDegraded = true
	}
	c.UpdatedAt = time.Now()

	if err := s.store.SaveContext(ctx, c); err != nil {
		if err == sentinel.ErrConflict {
			return nil, dErrors.New(dErrors.CodeConflict, "context was modified concurrently")
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) SearchAttributes(ctx context.Context, filter AttributeFilter) ([]*Attribute, error) {
	return s.store.SearchAttributes(ctx, filter)
}

func (s *Service) maybeScheduleReverification(ctx context.Context, tenantID id.TenantID, a *Attribute) {
	if a.Sensitivity.RequiresReverification() {
		s.scheduleReverification(ctx, tenantID, a.ID)
	}
}

// scheduleReverification offloads the task per spec.md §4.6: failure
// must never propagate back to the AddAttribute/UpdateAttribute caller.
func (s *Service) scheduleReverification(ctx context.Context, tenantID id.TenantID, attributeID id.AttributeID) {
	if s.reverifier == nil {
		return
	}
	go s.reverifier.ScheduleReverification(context.WithoutCancel(ctx), tenantID, attributeID)
}
