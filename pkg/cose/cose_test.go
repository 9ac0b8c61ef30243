package cose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Sum(b []byte) [32]byte { return sha256.Sum256(b) }
func cryptoSHA256() crypto.Hash   { return crypto.SHA256 }

func TestEncodeDecode_EC2RoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	want := Key{
		Kty: ktyEC2,
		Alg: AlgES256,
		Crv: crvP256,
		X:   priv.X.Bytes(),
		Y:   priv.Y.Bytes(),
	}

	raw := Encode(want)
	got, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, want.Kty, got.Kty)
	assert.Equal(t, want.Alg, got.Alg)
	assert.Equal(t, want.Crv, got.Crv)
	assert.Equal(t, want.X, got.X)
	assert.Equal(t, want.Y, got.Y)
}

func TestEncodeDecode_RSARoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	want := Key{
		Kty: ktyRSA,
		Alg: AlgRS256,
		N:   priv.N.Bytes(),
		E:   []byte{1, 0, 1}, // 65537
	}

	raw := Encode(want)
	got, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, want.N, got.N)
	assert.Equal(t, want.E, got.E)
}

func TestVerify_ES256(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	k := Key{Kty: ktyEC2, Alg: AlgES256, Crv: crvP256, X: priv.X.Bytes(), Y: priv.Y.Bytes()}

	message := []byte("authenticatorData||clientDataHash")
	digest := sha256Sum(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	require.NoError(t, Verify(k, message, sig))

	t.Run("rejects tampered message", func(t *testing.T) {
		err := Verify(k, []byte("tampered"), sig)
		assert.Error(t, err)
	})

	t.Run("rejects tampered signature", func(t *testing.T) {
		bad := append([]byte(nil), sig...)
		bad[len(bad)-1] ^= 0xff
		err := Verify(k, message, bad)
		assert.Error(t, err)
	})
}

func TestVerify_RS256(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	k := Key{Kty: ktyRSA, Alg: AlgRS256, N: priv.N.Bytes(), E: []byte{1, 0, 1}}

	message := []byte("authenticatorData||clientDataHash")
	digest := sha256Sum(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, cryptoSHA256(), digest[:])
	require.NoError(t, err)

	require.NoError(t, Verify(k, message, sig))
}

func TestDecode_RejectsMalformed(t *testing.T) {
	_, err := Decode([]byte{})
	assert.Error(t, err)

	_, err = Decode([]byte{0x00}) // major type 0, not a map
	assert.Error(t, err)
}

func TestPublicKey_RejectsUnsupportedCurve(t *testing.T) {
	k := Key{Kty: ktyEC2, Crv: 99, X: []byte{1}, Y: []byte{1}}
	_, err := k.PublicKey()
	assert.Error(t, err)
}
