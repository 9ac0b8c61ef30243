package webauthn

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// clientData is the subset of CollectedClientData WebAuthn RP verification cares about.
type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

func parseClientData(raw []byte) (clientData, error) {
	var cd clientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return clientData{}, fmt.Errorf("parse client data json: %w", err)
	}
	return cd, nil
}

// authenticatorDataFlags are the bit positions of the AuthenticatorData
// flags byte, per WebAuthn §6.1.
const (
	flagUP byte = 1 << 0 // user present
	flagUV byte = 1 << 2 // user verified
	flagAT byte = 1 << 6 // attested credential data included
	flagBE byte = 1 << 3 // backup eligible
	flagBS byte = 1 << 4 // backup state
)

// authenticatorData is the parsed result of the authData byte string
// present in both attestation objects and assertions.
type authenticatorData struct {
	RPIDHash               [32]byte
	Flags                  byte
	SignCount              uint32
	AAGUID                 [16]byte
	CredentialID           []byte
	CredentialPublicKeyRaw []byte
	Raw                    []byte
}

func (a authenticatorData) userPresent() bool  { return a.Flags&flagUP != 0 }
func (a authenticatorData) userVerified() bool { return a.Flags&flagUV != 0 }
func (a authenticatorData) hasAttestedCredentialData() bool { return a.Flags&flagAT != 0 }
func (a authenticatorData) backupEligible() bool { return a.Flags&flagBE != 0 }
func (a authenticatorData) backupState() bool    { return a.Flags&flagBS != 0 }

// parseAuthenticatorData decodes the fixed-layout header (rpIdHash[32],
// flags[1], signCount[4]) and, when the attested-credential-data flag is
// set, the variable-length AAGUID/credentialId/credentialPublicKey that
// follows — the public key itself is COSE_Key-encoded and is decoded by
// the caller via pkg/cose.
func parseAuthenticatorData(raw []byte) (authenticatorData, error) {
	if len(raw) < 37 {
		return authenticatorData{}, fmt.Errorf("authenticator data too short: %d bytes", len(raw))
	}
	var out authenticatorData
	out.Raw = raw
	copy(out.RPIDHash[:], raw[:32])
	out.Flags = raw[32]
	out.SignCount = binary.BigEndian.Uint32(raw[33:37])

	if !out.hasAttestedCredentialData() {
		return out, nil
	}

	rest := raw[37:]
	if len(rest) < 16+2 {
		return authenticatorData{}, fmt.Errorf("attested credential data truncated")
	}
	copy(out.AAGUID[:], rest[:16])
	credIDLen := binary.BigEndian.Uint16(rest[16:18])
	rest = rest[18:]
	if len(rest) < int(credIDLen) {
		return authenticatorData{}, fmt.Errorf("credential id truncated")
	}
	out.CredentialID = rest[:credIDLen]
	out.CredentialPublicKeyRaw = rest[credIDLen:]
	return out, nil
}

// rpIDHash computes SHA-256(rpID), the value an authenticator embeds in
// authData to bind the ceremony to a relying party.
func rpIDHash(rpID string) [32]byte {
	return sha256.Sum256([]byte(rpID))
}

// signedMessage reconstructs `authenticatorData || SHA-256(clientDataJSON)`,
// the bytes WebAuthn signatures are computed over.
func signedMessage(authData, clientDataJSON []byte) []byte {
	h := sha256.Sum256(clientDataJSON)
	msg := make([]byte, 0, len(authData)+len(h))
	msg = append(msg, authData...)
	msg = append(msg, h[:]...)
	return msg
}
