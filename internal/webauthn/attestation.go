package webauthn

import (
	"encoding/base64"
	"strings"

	"aegis/internal/credential"
)

// mustBase64URL decodes the base64url (no padding) encoding WebAuthn
// client data uses for its challenge field; a malformed value decodes
// to nil, which never equals a real stored challenge.
func mustBase64URL(s string) []byte {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}

// trustedAttestationFormats lists the formats this engine can evaluate
// without a metadata-service root-of-trust chain. "none" is always
// accepted since the caller explicitly opted out of attestation; the
// signature-bearing formats are accepted structurally (the attStmt
// parses and carries a signature) but are not chained to a trust anchor
// absent a configured metadata service, mirroring §4.1's "root-of-trust
// chains verified against a metadata service when available."
var trustedAttestationFormats = map[string]bool{
	"none":               true,
	"packed":             true,
	"fido-u2f":           true,
	"android-key":        true,
	"tpm":                true,
	"apple":              true,
	"android-safetynet":  true,
}

func validateAttestationStatement(att attestationObject, policy RPPolicy) error {
	if !trustedAttestationFormats[att.Format] {
		return fail(FailureAttestationUntrusted, "unrecognized attestation format: "+att.Format)
	}
	if att.Format == "none" {
		return nil
	}
	if _, hasSig := att.AttStmt["sig"]; !hasSig && att.Format != "android-safetynet" {
		return fail(FailureAttestationUntrusted, "attestation statement missing signature")
	}
	return nil
}

func deviceTypeFor(policy RPPolicy) credential.DeviceType {
	switch policy.AuthenticatorAttachment() {
	case "platform":
		return credential.DeviceTypePlatform
	case "cross-platform":
		return credential.DeviceTypeCrossPlatform
	default:
		return credential.DeviceTypeUnknown
	}
}

// AuthenticatorAttachment is a placeholder hook for tenant policies that
// pin a required attachment; the base RPPolicy does not carry one, so
// this always falls through to "unknown" until a tenant-specific policy
// type supplies it.
func (p RPPolicy) AuthenticatorAttachment() string { return "" }

func attestationTypeFor(format string, policy RPPolicy) credential.AttestationType {
	if format == "none" {
		return credential.AttestationNone
	}
	if strings.Contains(format, "safetynet") || format == "tpm" || format == "android-key" {
		if policy.AllowEnterpriseAttestation {
			return credential.AttestationEnterprise
		}
		return credential.AttestationDirect
	}
	return credential.AttestationIndirect
}
