package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subwatch/subwatch/internal/notification"
)

// sealEnvelope builds an encrypted envelope the way the provider does:
// AES-256-CBC payload with IV taken from the key, HMAC-SHA256 signature
// over the ciphertext, and the key wrapped with RSA-OAEP.
func sealEnvelope(t *testing.T, pub *rsa.PublicKey, plaintext []byte) *notification.EncryptedContent {
	t.Helper()

	symmetricKey := make([]byte, 32)
	_, err := rand.Read(symmetricKey)
	require.NoError(t, err)

	block, err := aes.NewCipher(symmetricKey)
	require.NoError(t, err)

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, symmetricKey[:aes.BlockSize]).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, symmetricKey)
	mac.Write(ciphertext)

	wrappedKey, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, symmetricKey, nil)
	require.NoError(t, err)

	return &notification.EncryptedContent{
		Data:          base64.StdEncoding.EncodeToString(ciphertext),
		DataKey:       base64.StdEncoding.EncodeToString(wrappedKey),
		DataSignature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

func newTestDecryptor(t *testing.T) (*Decryptor, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return New(key), key
}

func TestOpenRoundTrip(t *testing.T) {
	d, key := newTestDecryptor(t)

	payload := []byte(`{"id":"msg-1","body":{"content":"hello"}}`)
	envelope := sealEnvelope(t, &key.PublicKey, payload)

	plaintext, err := d.Open(envelope)
	require.NoError(t, err)
	assert.Equal(t, payload, plaintext)
}

func TestOpenRejectsTamperedSignature(t *testing.T) {
	d, key := newTestDecryptor(t)

	envelope := sealEnvelope(t, &key.PublicKey, []byte(`{"id":"msg-1"}`))
	envelope.DataSignature = base64.StdEncoding.EncodeToString(make([]byte, sha256.Size))

	_, err := d.Open(envelope)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	d, key := newTestDecryptor(t)

	envelope := sealEnvelope(t, &key.PublicKey, []byte(`{"id":"msg-1"}`))

	raw, err := base64.StdEncoding.DecodeString(envelope.Data)
	require.NoError(t, err)
	raw[0] ^= 0xff
	envelope.Data = base64.StdEncoding.EncodeToString(raw)

	_, err = d.Open(envelope)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestOpenRejectsForeignKey(t *testing.T) {
	d, _ := newTestDecryptor(t)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	envelope := sealEnvelope(t, &otherKey.PublicKey, []byte(`{"id":"msg-1"}`))

	_, err = d.Open(envelope)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSignatureMismatch)
}

func TestOpenRejectsBadBase64(t *testing.T) {
	d, key := newTestDecryptor(t)

	envelope := sealEnvelope(t, &key.PublicKey, []byte(`{}`))
	envelope.DataKey = "not base64!!!"

	_, err := d.Open(envelope)
	assert.Error(t, err)
}

func TestLoadPrivateKeyPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	loaded, err := LoadPrivateKey(pemData, "")
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadPrivateKeyPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	})

	loaded, err := LoadPrivateKey(pemData, "")
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadPrivateKeyEncryptedPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	//nolint:staticcheck
	block, err := x509.EncryptPEMBlock(
		rand.Reader,
		"RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(key),
		[]byte("hunter2"),
		x509.PEMCipherAES256,
	)
	require.NoError(t, err)

	pemData := pem.EncodeToMemory(block)

	loaded, err := LoadPrivateKey(pemData, "hunter2")
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = LoadPrivateKey(pemData, "wrong")
	assert.Error(t, err)
}

func TestLoadPrivateKeyGarbage(t *testing.T) {
	_, err := LoadPrivateKey([]byte("not a key"), "")
	assert.Error(t, err)
}
