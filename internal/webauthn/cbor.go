package webauthn

import (
	"encoding/binary"
	"fmt"
)

// decodeCBORValue is a minimal, read-only CBOR decoder covering the
// major types an attestation object can contain: unsigned/negative
// integers, byte strings, text strings, arrays, maps, booleans, and
// null. It does not handle floats, tags, or indefinite-length items —
// none of which WebAuthn attestation objects use. Kept local to this
// package rather than generalized in pkg/cose, which only ever needs to
// decode the narrower COSE_Key map shape.
func decodeCBORValue(data []byte, offset int) (any, int, error) {
	if offset >= len(data) {
		return nil, 0, fmt.Errorf("cbor: unexpected end of input")
	}
	head := data[offset]
	major := head >> 5
	minor := head & 0x1f

	length, headerLen, err := decodeCBORLength(data, offset, minor)
	if err != nil {
		return nil, 0, err
	}
	next := offset + headerLen

	switch major {
	case 0: // unsigned int
		return length, next, nil
	case 1: // negative int
		return -1 - int64(length), next, nil
	case 2: // byte string
		if next+int(length) > len(data) {
			return nil, 0, fmt.Errorf("cbor: byte string truncated")
		}
		return append([]byte(nil), data[next:next+int(length)]...), next + int(length), nil
	case 3: // text string
		if next+int(length) > len(data) {
			return nil, 0, fmt.Errorf("cbor: text string truncated")
		}
		return string(data[next : next+int(length)]), next + int(length), nil
	case 4: // array
		arr := make([]any, 0, length)
		pos := next
		for i := int64(0); i < length; i++ {
			var v any
			v, pos, err = decodeCBORValue(data, pos)
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, v)
		}
		return arr, pos, nil
	case 5: // map
		m := make(map[string]any, length)
		pos := next
		for i := int64(0); i < length; i++ {
			var key, val any
			key, pos, err = decodeCBORValue(data, pos)
			if err != nil {
				return nil, 0, err
			}
			val, pos, err = decodeCBORValue(data, pos)
			if err != nil {
				return nil, 0, err
			}
			k, ok := key.(string)
			if !ok {
				k = fmt.Sprintf("%v", key)
			}
			m[k] = val
		}
		return m, pos, nil
	case 7: // simple/float
		switch minor {
		case 20:
			return false, next, nil
		case 21:
			return true, next, nil
		case 22:
			return nil, next, nil
		}
		return nil, next, nil
	default:
		return nil, 0, fmt.Errorf("cbor: unsupported major type %d", major)
	}
}

func decodeCBORLength(data []byte, offset int, minor byte) (int64, int, error) {
	switch {
	case minor < 24:
		return int64(minor), 1, nil
	case minor == 24:
		if offset+2 > len(data) {
			return 0, 0, fmt.Errorf("cbor: truncated length")
		}
		return int64(data[offset+1]), 2, nil
	case minor == 25:
		if offset+3 > len(data) {
			return 0, 0, fmt.Errorf("cbor: truncated length")
		}
		return int64(binary.BigEndian.Uint16(data[offset+1 : offset+3])), 3, nil
	case minor == 26:
		if offset+5 > len(data) {
			return 0, 0, fmt.Errorf("cbor: truncated length")
		}
		return int64(binary.BigEndian.Uint32(data[offset+1 : offset+5])), 5, nil
	default:
		return 0, 0, fmt.Errorf("cbor: unsupported length encoding %d", minor)
	}
}

// attestationObject is the decoded top-level CBOR map every attestation
// statement format shares: fmt, authData, and a format-specific attStmt.
type attestationObject struct {
	Format   string
	AuthData []byte
	AttStmt  map[string]any
}

func decodeAttestationObject(raw []byte) (attestationObject, error) {
	v, _, err := decodeCBORValue(raw, 0)
	if err != nil {
		return attestationObject{}, fmt.Errorf("decode attestation object: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return attestationObject{}, fmt.Errorf("attestation object is not a CBOR map")
	}
	format, _ := m["fmt"].(string)
	authData, _ := m["authData"].([]byte)
	attStmt, _ := m["attStmt"].(map[string]any)
	if format == "" || authData == nil {
		return attestationObject{}, fmt.Errorf("attestation object missing fmt/authData")
	}
	return attestationObject{Format: format, AuthData: authData, AttStmt: attStmt}, nil
}
