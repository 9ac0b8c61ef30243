package webauthn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"aegis/internal/audit"
	"aegis/internal/credential"
	"aegis/pkg/cose"
	"aegis/pkg/cryptoprovider"
	id "aegis/pkg/domain"

	"github.com/stretchr/testify/require"
)

const testRPID = "example.com"
const testOrigin = "https://example.com"

func testPolicy() RPPolicy {
	return RPPolicy{
		RPID:           testRPID,
		RPName:         "Example",
		AllowedOrigins: []string{testOrigin},
	}
}

func testCrypto(t *testing.T) cryptoprovider.Provider {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return cryptoprovider.New(key)
}

// fakeAuthenticator generates an ES256 keypair and builds the
// authenticatorData/attestationObject/assertion bytes a real security
// key would produce, so the engine's ceremony logic can be exercised
// end to end without a browser or hardware token.
type fakeAuthenticator struct {
	priv         *ecdsa.PrivateKey
	credentialID []byte
	aaguid       [16]byte
}

func newFakeAuthenticator(t *testing.T) *fakeAuthenticator {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &fakeAuthenticator{priv: priv, credentialID: []byte("fake-credential-id-001")}
}

func (f *fakeAuthenticator) coseKey() cose.Key {
	return cose.Key{
		Kty: 2,
		Alg: cose.AlgES256,
		Crv: 1,
		X:   f.priv.PublicKey.X.Bytes(),
		Y:   f.priv.PublicKey.Y.Bytes(),
	}
}

func (f *fakeAuthenticator) authenticatorData(signCount uint32, includeAttestedCredData bool) []byte {
	rpHash := sha256.Sum256([]byte(testRPID))
	buf := append([]byte{}, rpHash[:]...)
	flags := flagUP | flagUV
	if includeAttestedCredData {
		flags |= flagAT
	}
	buf = append(buf, flags)
	var countBytes [4]byte
	binary.BigEndian.PutUint32(countBytes[:], signCount)
	buf = append(buf, countBytes[:]...)

	if includeAttestedCredData {
		buf = append(buf, f.aaguid[:]...)
		var credLen [2]byte
		binary.BigEndian.PutUint16(credLen[:], uint16(len(f.credentialID)))
		buf = append(buf, credLen[:]...)
		buf = append(buf, f.credentialID...)
		buf = append(buf, cose.Encode(f.coseKey())...)
	}
	return buf
}

func (f *fakeAuthenticator) clientDataJSON(typ string, challenge []byte) []byte {
	cd := clientData{
		Type:      typ,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    testOrigin,
	}
	b, _ := json.Marshal(cd)
	return b
}

func (f *fakeAuthenticator) sign(authData, clientDataJSON []byte) []byte {
	msg := signedMessage(authData, clientDataJSON)
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, f.priv, digest[:])
	if err != nil {
		panic(err)
	}
	return sig
}

// encodeAttestationObjectNone builds a minimal CBOR-encoded attestation
// object with format "none", matching what decodeAttestationObject expects.
func encodeAttestationObjectNone(authData []byte) []byte {
	var buf []byte
	buf = append(buf, 0xa3) // map, 3 entries
	buf = append(buf, cborTextString("fmt")...)
	buf = append(buf, cborTextString("none")...)
	buf = append(buf, cborTextString("authData")...)
	buf = append(buf, cborByteString(authData)...)
	buf = append(buf, cborTextString("attStmt")...)
	buf = append(buf, 0xa0) // empty map
	return buf
}

func cborTextString(s string) []byte {
	return append(cborHead(3, len(s)), []byte(s)...)
}

func cborByteString(b []byte) []byte {
	return append(cborHead(2, len(b)), b...)
}

func cborHead(major byte, length int) []byte {
	if length < 24 {
		return []byte{major<<5 | byte(length)}
	}
	if length < 256 {
		return []byte{major<<5 | 24, byte(length)}
	}
	var out [3]byte
	out[0] = major<<5 | 25
	binary.BigEndian.PutUint16(out[1:], uint16(length))
	return out[:]
}

func newTestEngine(t *testing.T) (*Engine, *credential.InMemoryStore) {
	challenges := NewMemoryChallengeStore()
	credStore := credential.NewInMemoryStore()
	auditSvc := audit.NewService(audit.NewMemoryStore())
	credSvc := credential.NewService(credStore, auditSvc)
	crypto := testCrypto(t)
	return NewEngine(challenges, credStore, credSvc, crypto, auditSvc), credStore
}

func TestEngine_RegistrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	tenantID := id.NewTenantID()
	userID := id.NewUserID()
	policy := testPolicy()

	opts, err := engine.RegistrationOptionsFor(ctx, tenantID, userID, []byte("handle"), policy)
	require.NoError(t, err)
	require.Len(t, opts.Challenge, 32)

	authr := newFakeAuthenticator(t)
	authData := authr.authenticatorData(1, true)
	clientDataJSON := authr.clientDataJSON("webauthn.create", opts.Challenge)
	attObj := encodeAttestationObjectNone(authData)

	cred, err := engine.VerifyAttestation(ctx, tenantID, userID, AttestationSubmission{
		ClientDataJSON:    clientDataJSON,
		AttestationObject: attObj,
		ChallengeID:       opts.ChallengeID,
	}, policy)
	require.NoError(t, err)
	require.Equal(t, credential.StatusActive, cred.Status)
	require.Equal(t, uint32(1), cred.SignCount)

	stored, err := store.GetByID(ctx, tenantID, cred.ID)
	require.NoError(t, err)
	require.Equal(t, cred.ID, stored.ID)
}

func TestEngine_RegistrationRejectsChallengeReplay(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	policy := testPolicy()

	opts, err := engine.RegistrationOptionsFor(ctx, tenantID, userID, []byte("handle"), policy)
	require.NoError(t, err)

	authr := newFakeAuthenticator(t)
	authData := authr.authenticatorData(1, true)
	clientDataJSON := authr.clientDataJSON("webauthn.create", opts.Challenge)
	attObj := encodeAttestationObjectNone(authData)

	sub := AttestationSubmission{ClientDataJSON: clientDataJSON, AttestationObject: attObj, ChallengeID: opts.ChallengeID}
	_, err = engine.VerifyAttestation(ctx, tenantID, userID, sub, policy)
	require.NoError(t, err)

	_, err = engine.VerifyAttestation(ctx, tenantID, userID, sub, policy)
	require.Error(t, err)
	ceremonyErr, ok := err.(*CeremonyError)
	require.True(t, ok)
	require.Equal(t, FailureChallengeMismatch, ceremonyErr.Kind)
}

func TestEngine_AuthenticationRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	policy := testPolicy()
	authr := newFakeAuthenticator(t)

	regOpts, err := engine.RegistrationOptionsFor(ctx, tenantID, userID, []byte("handle"), policy)
	require.NoError(t, err)
	regAuthData := authr.authenticatorData(1, true)
	regClientData := authr.clientDataJSON("webauthn.create", regOpts.Challenge)
	_, err = engine.VerifyAttestation(ctx, tenantID, userID, AttestationSubmission{
		ClientDataJSON:    regClientData,
		AttestationObject: encodeAttestationObjectNone(regAuthData),
		ChallengeID:       regOpts.ChallengeID,
	}, policy)
	require.NoError(t, err)

	authOpts, err := engine.AuthenticationOptionsFor(ctx, tenantID, userID, policy)
	require.NoError(t, err)
	require.Len(t, authOpts.AllowCredentials, 1)

	assertAuthData := authr.authenticatorData(2, false)
	assertClientData := authr.clientDataJSON("webauthn.get", authOpts.Challenge)
	sig := authr.sign(assertAuthData, assertClientData)

	principal, err := engine.VerifyAssertion(ctx, tenantID, userID, AssertionSubmission{
		ClientDataJSON:    assertClientData,
		AuthenticatorData: assertAuthData,
		Signature:         sig,
		CredentialID:      authr.credentialID,
		ChallengeID:       authOpts.ChallengeID,
	}, policy)
	require.NoError(t, err)
	require.Equal(t, tenantID, principal.TenantID)
	require.Equal(t, userID, principal.UserID)
}

func TestEngine_AuthenticationRejectsCounterRollback(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	tenantID, userID := id.NewTenantID(), id.NewUserID()
	policy := testPolicy()
	policy.StrictCounterPolicy = true
	authr := newFakeAuthenticator(t)

	regOpts, err := engine.RegistrationOptionsFor(ctx, tenantID, userID, []byte("handle"), policy)
	require.NoError(t, err)
	regAuthData := authr.authenticatorData(5, true)
	regClientData := authr.clientDataJSON("webauthn.create", regOpts.Challenge)
	cred, err := engine.VerifyAttestation(ctx, tenantID, userID, AttestationSubmission{
		ClientDataJSON:    regClientData,
		AttestationObject: encodeAttestationObjectNone(regAuthData),
		ChallengeID:       regOpts.ChallengeID,
	}, policy)
	require.NoError(t, err)

	authOpts, err := engine.AuthenticationOptionsFor(ctx, tenantID, userID, policy)
	require.NoError(t, err)

	// Replayed counter (5, same as registration) must be rejected.
	assertAuthData := authr.authenticatorData(5, false)
	assertClientData := authr.clientDataJSON("webauthn.get", authOpts.Challenge)
	sig := authr.sign(assertAuthData, assertClientData)

	_, err = engine.VerifyAssertion(ctx, tenantID, userID, AssertionSubmission{
		ClientDataJSON:    assertClientData,
		AuthenticatorData: assertAuthData,
		Signature:         sig,
		CredentialID:      authr.credentialID,
		ChallengeID:       authOpts.ChallengeID,
	}, policy)
	require.Error(t, err)

	stored, getErr := store.GetByID(ctx, tenantID, cred.ID)
	require.NoError(t, getErr)
	require.Equal(t, credential.StatusCompromised, stored.Status)
}
