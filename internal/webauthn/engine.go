package webauthn

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"aegis/internal/audit"
	"aegis/internal/credential"
	"aegis/internal/platform/tracing"
	"aegis/pkg/cryptoprovider"
	id "aegis/pkg/domain"
	"aegis/pkg/sentinel"
)

// preferredAlgorithms lists pubKeyCredParams in the order spec.md §4.1
// prefers them: ES256 first, RS256 second.
var preferredAlgorithms = []int{-7, -257}

// Engine is the relying-party implementation of WebAuthn registration
// and authentication ceremonies.
type Engine struct {
	challenges ChallengeStore
	creds      credential.Store
	credSvc    *credential.Service
	crypto     cryptoprovider.Provider
	audit      *audit.Service
	tracer     tracing.Tracer
	metadata   MetadataService
	randomizer func(n int) ([]byte, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer attaches a span emitter so registration/assertion
// ceremonies get one span apiece, attributed with tenant/user IDs only.
func WithTracer(t tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMetadataService attaches the optional FIDO metadata collaborator,
// wrapped in NewCircuitMetadataService by the caller.
func WithMetadataService(m MetadataService) Option {
	return func(e *Engine) { e.metadata = m }
}

func NewEngine(challenges ChallengeStore, creds credential.Store, credSvc *credential.Service, crypto cryptoprovider.Provider, auditSvc *audit.Service, opts ...Option) *Engine {
	e := &Engine{
		challenges: challenges,
		creds:      creds,
		credSvc:    credSvc,
		crypto:     crypto,
		audit:      auditSvc,
		randomizer: crypto.RandomBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegistrationOptionsFor builds registration ceremony options per §4.1
// step 1: a fresh 32+ byte challenge, stored single-use with a 5 minute TTL.
func (e *Engine) RegistrationOptionsFor(ctx context.Context, tenantID id.TenantID, userID id.UserID, userHandle []byte, policy RPPolicy) (RegistrationOptions, error) {
	challenge, err := e.randomizer(32)
	if err != nil {
		return RegistrationOptions{}, fmt.Errorf("generate challenge: %w", err)
	}

	existing, err := e.creds.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return RegistrationOptions{}, fmt.Errorf("list existing credentials: %w", err)
	}
	exclude := make([][]byte, 0, len(existing))
	for _, c := range existing {
		if c.IsUsable() {
			exclude = append(exclude, c.CredentialID)
		}
	}

	challengeID := id.NewChallengeID()
	now := time.Now()
	if err := e.challenges.Put(ctx, Challenge{
		ID:        challengeID,
		TenantID:  tenantID,
		UserID:    userID,
		Purpose:   PurposeRegistration,
		Value:     challenge,
		CreatedAt: now,
		ExpiresAt: now.Add(ChallengeTTL),
	}); err != nil {
		return RegistrationOptions{}, fmt.Errorf("store challenge: %w", err)
	}

	return RegistrationOptions{
		Challenge:            challenge,
		RPID:                 policy.RPID,
		RPName:               policy.RPName,
		UserHandle:           userHandle,
		PubKeyCredParams:     preferredAlgorithms,
		ExcludeCredentialIDs: exclude,
		AuthenticatorSelection: AuthenticatorSelection{
			UserVerification: userVerificationPreference(policy),
		},
		Attestation: "direct",
		ChallengeID: challengeID,
	}, nil
}

func userVerificationPreference(policy RPPolicy) string {
	if policy.RequireUserVerification {
		return "required"
	}
	return "preferred"
}

// VerifyAttestation runs §4.1 steps 2–4: validate the ceremony, persist
// the new credential, and emit an audit event for the outcome either way.
func (e *Engine) VerifyAttestation(ctx context.Context, tenantID id.TenantID, userID id.UserID, sub AttestationSubmission, policy RPPolicy) (*credential.Credential, error) {
	ctx, finish := e.tracer.Start(ctx, "webauthn.verify_attestation", tracing.TenantAttr(tenantID.String()), tracing.UserAttr(userID.String()))
	cred, err := e.verifyAttestation(ctx, tenantID, userID, sub, policy)
	finish(err)
	e.recordRegistrationAudit(ctx, tenantID, userID, err)
	return cred, err
}

func (e *Engine) verifyAttestation(ctx context.Context, tenantID id.TenantID, userID id.UserID, sub AttestationSubmission, policy RPPolicy) (*credential.Credential, error) {
	challenge, err := e.challenges.Consume(ctx, tenantID, sub.ChallengeID, PurposeRegistration)
	if err != nil {
		if err == sentinel.ErrExpired {
			return nil, fail(FailureExpiredChallenge, "registration challenge expired")
		}
		return nil, fail(FailureChallengeMismatch, "unknown or already-used challenge")
	}

	cd, err := parseClientData(sub.ClientDataJSON)
	if err != nil {
		return nil, fail(FailureChallengeMismatch, err.Error())
	}
	if cd.Type != "webauthn.create" {
		return nil, fail(FailureChallengeMismatch, "unexpected client data type")
	}
	if !bytes.Equal(mustBase64URL(cd.Challenge), challenge.Value) {
		return nil, fail(FailureChallengeMismatch, "challenge value mismatch")
	}
	if !originAllowed(cd.Origin, policy.AllowedOrigins) {
		return nil, fail(FailureOriginMismatch, "origin not in allow-list")
	}

	att, err := decodeAttestationObject(sub.AttestationObject)
	if err != nil {
		return nil, fail(FailureAttestationUntrusted, err.Error())
	}
	authData, err := parseAuthenticatorData(att.AuthData)
	if err != nil {
		return nil, fail(FailureAttestationUntrusted, err.Error())
	}
	if authData.RPIDHash != rpIDHash(policy.RPID) {
		return nil, fail(FailureRPIDMismatch, "rp id hash mismatch")
	}
	if !authData.userPresent() {
		return nil, fail(FailureUVRequired, "user presence flag not set")
	}
	if policy.RequireUserVerification && !authData.userVerified() {
		return nil, fail(FailureUVRequired, "user verification required by policy")
	}
	if !authData.hasAttestedCredentialData() || authData.CredentialPublicKeyRaw == nil {
		return nil, fail(FailureAttestationUntrusted, "no attested credential data")
	}

	if err := validateAttestationStatement(att, policy); err != nil {
		return nil, err
	}

	pubKey, err := e.crypto.ParseCOSEKey(authData.CredentialPublicKeyRaw)
	if err != nil {
		return nil, fail(FailureAttestationUntrusted, "unparseable public key: "+err.Error())
	}

	hash := e.crypto.SHA256(authData.CredentialID)
	if existing, getErr := e.creds.GetByHash(ctx, hash); getErr == nil && existing != nil {
		return nil, fail(FailureAttestationUntrusted, "credential id collision across users")
	}

	now := time.Now()
	cred := &credential.Credential{
		ID:              id.NewCredentialID(),
		TenantID:        tenantID,
		UserID:          userID,
		CredentialID:    append([]byte(nil), authData.CredentialID...),
		CredentialIDHash: hash,
		PublicKey:       pubKey,
		SignCount:       authData.SignCount,
		DeviceType:      deviceTypeFor(policy),
		AttestationType: attestationTypeFor(att.Format, policy),
		Status:          credential.StatusActive,
		BackupEligible:  authData.backupEligible(),
		BackupState:     authData.backupState(),
		AAGUID:          authData.AAGUID,
		RiskScore:       0,
		AttestationBlob: append([]byte(nil), sub.AttestationObject...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if e.metadata != nil {
		if meta, err := e.metadata.Lookup(ctx, cred.AAGUID); err == nil && meta.DeviceName != "" {
			cred.Nickname = meta.DeviceName
		}
	}

	if err := e.credSvc.Create(ctx, cred); err != nil {
		return nil, fail(FailureAttestationUntrusted, "persist credential: "+err.Error())
	}
	return cred, nil
}

func (e *Engine) recordRegistrationAudit(ctx context.Context, tenantID id.TenantID, userID id.UserID, ceremonyErr error) {
	if e.audit == nil {
		return
	}
	evt := audit.Event{
		TenantID:     tenantID,
		UserID:       userID,
		EventType:    audit.EventCredentialRegistered,
		Action:       "webauthn_registration_success",
		ResourceType: "credential",
	}
	if ceremonyErr != nil {
		evt.Action = "webauthn_registration_failed"
		evt.Metadata = map[string]any{"reason": ceremonyErr.Error()}
	}
	_, _ = e.audit.Record(ctx, evt)
}

// AuthenticationOptionsFor builds authentication ceremony options per
// §4.1's authentication "Options" step.
func (e *Engine) AuthenticationOptionsFor(ctx context.Context, tenantID id.TenantID, userID id.UserID, policy RPPolicy) (AuthenticationOptions, error) {
	challenge, err := e.randomizer(32)
	if err != nil {
		return AuthenticationOptions{}, fmt.Errorf("generate challenge: %w", err)
	}

	creds, err := e.creds.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return AuthenticationOptions{}, fmt.Errorf("list credentials: %w", err)
	}
	allow := make([][]byte, 0, len(creds))
	for _, c := range creds {
		if c.IsUsable() {
			allow = append(allow, c.CredentialID)
		}
	}

	challengeID := id.NewChallengeID()
	now := time.Now()
	if err := e.challenges.Put(ctx, Challenge{
		ID:        challengeID,
		TenantID:  tenantID,
		UserID:    userID,
		Purpose:   PurposeAuthentication,
		Value:     challenge,
		CreatedAt: now,
		ExpiresAt: now.Add(ChallengeTTL),
	}); err != nil {
		return AuthenticationOptions{}, fmt.Errorf("store challenge: %w", err)
	}

	return AuthenticationOptions{
		Challenge:        challenge,
		RPID:             policy.RPID,
		AllowCredentials: allow,
		UserVerification: userVerificationPreference(policy),
		Timeout:          ChallengeTTL,
		ChallengeID:      challengeID,
	}, nil
}

// VerifyAssertion runs §4.1's authentication "Verify assertion" step and
// returns the verified Principal the session manager consumes.
func (e *Engine) VerifyAssertion(ctx context.Context, tenantID id.TenantID, userID id.UserID, sub AssertionSubmission, policy RPPolicy) (Principal, error) {
	ctx, finish := e.tracer.Start(ctx, "webauthn.verify_assertion", tracing.TenantAttr(tenantID.String()), tracing.UserAttr(userID.String()))
	principal, err := e.verifyAssertion(ctx, tenantID, userID, sub, policy)
	finish(err)
	e.recordAuthenticationAudit(ctx, tenantID, userID, principal, err)
	return principal, err
}

func (e *Engine) verifyAssertion(ctx context.Context, tenantID id.TenantID, userID id.UserID, sub AssertionSubmission, policy RPPolicy) (Principal, error) {
	challenge, err := e.challenges.Consume(ctx, tenantID, sub.ChallengeID, PurposeAuthentication)
	if err != nil {
		if err == sentinel.ErrExpired {
			return Principal{}, fail(FailureExpiredChallenge, "authentication challenge expired")
		}
		return Principal{}, fail(FailureChallengeMismatch, "unknown or already-used challenge")
	}

	cd, err := parseClientData(sub.ClientDataJSON)
	if err != nil {
		return Principal{}, fail(FailureChallengeMismatch, err.Error())
	}
	if cd.Type != "webauthn.get" {
		return Principal{}, fail(FailureChallengeMismatch, "unexpected client data type")
	}
	if !bytes.Equal(mustBase64URL(cd.Challenge), challenge.Value) {
		return Principal{}, fail(FailureChallengeMismatch, "challenge value mismatch")
	}
	if !originAllowed(cd.Origin, policy.AllowedOrigins) {
		return Principal{}, fail(FailureOriginMismatch, "origin not in allow-list")
	}

	authData, err := parseAuthenticatorData(sub.AuthenticatorData)
	if err != nil {
		return Principal{}, fail(FailureSignatureInvalid, err.Error())
	}
	if authData.RPIDHash != rpIDHash(policy.RPID) {
		return Principal{}, fail(FailureRPIDMismatch, "rp id hash mismatch")
	}
	if !authData.userPresent() {
		return Principal{}, fail(FailureUVRequired, "user presence flag not set")
	}
	if policy.RequireUserVerification && !authData.userVerified() {
		return Principal{}, fail(FailureUVRequired, "user verification required by policy")
	}

	hash := e.crypto.SHA256(sub.CredentialID)
	cred, err := e.creds.GetByHash(ctx, hash)
	if err != nil {
		return Principal{}, fail(FailureCredentialUnknown, "credential not registered")
	}
	if cred.TenantID != tenantID || cred.UserID != userID {
		return Principal{}, fail(FailureCredentialUnknown, "credential does not belong to this user")
	}
	if !cred.IsUsable() {
		return Principal{}, fail(FailureCredentialRevoked, "credential is "+string(cred.Status))
	}

	msg := signedMessage(sub.AuthenticatorData, sub.ClientDataJSON)
	if err := e.crypto.VerifySignature(cred.PublicKey, msg, sub.Signature); err != nil {
		return Principal{}, fail(FailureSignatureInvalid, err.Error())
	}

	if err := e.credSvc.VerifyAndAdvanceCounter(ctx, tenantID, cred.ID, authData.SignCount); err != nil {
		if err == sentinel.ErrCounterRollback {
			if policy.StrictCounterPolicy {
				_ = e.credSvc.MarkCompromised(ctx, tenantID, cred.ID)
			}
			return Principal{}, fail(FailureCounterRollback, "signature counter did not increase")
		}
		return Principal{}, fmt.Errorf("advance counter: %w", err)
	}

	return Principal{TenantID: tenantID, UserID: userID, CredentialID: cred.ID}, nil
}

func (e *Engine) recordAuthenticationAudit(ctx context.Context, tenantID id.TenantID, userID id.UserID, principal Principal, ceremonyErr error) {
	if e.audit == nil {
		return
	}
	evt := audit.Event{
		TenantID:     tenantID,
		UserID:       userID,
		EventType:    audit.EventLoginSuccess,
		Action:       "webauthn_authentication_success",
		ResourceType: "credential",
	}
	if !principal.CredentialID.IsNil() {
		evt.ResourceID = principal.CredentialID.String()
	}
	if ceremonyErr != nil {
		evt.EventType = audit.EventLoginFailed
		evt.Action = "webauthn_authentication_failed"
		evt.Metadata = map[string]any{"reason": ceremonyErr.Error()}
	}
	_, _ = e.audit.Record(ctx, evt)
}
