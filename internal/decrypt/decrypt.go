// Package decrypt implements the pipeline that recovers plaintext resource
// payloads from encrypted notification envelopes: RSA unwrap of the
// symmetric data key, HMAC signature verification over the ciphertext, and
// AES-CBC payload decryption.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/metrics"
	"github.com/subwatch/subwatch/internal/notification"
)

var (
	// ErrSignatureMismatch is returned when the signature recomputed over
	// the ciphertext does not match the one carried in the envelope. The
	// payload is never decrypted in that case.
	ErrSignatureMismatch = errors.New("encrypted content signature mismatch")
)

// Decryptor opens encrypted notification envelopes with the private key
// whose certificate was registered with the provider at subscription
// creation. It holds no per-call state; a single instance is shared by all
// in-flight notifications.
type Decryptor struct {
	key     *rsa.PrivateKey
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Decryptor around an already-loaded private key
func New(key *rsa.PrivateKey) *Decryptor {
	return &Decryptor{
		key:     key,
		logger:  logging.Component("decrypt"),
		metrics: metrics.GetMetrics(),
	}
}

// NewFromFile loads the PEM private key at path, decrypting it with
// password if the block is encrypted, and returns a ready Decryptor.
func NewFromFile(path, password string) (*Decryptor, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	key, err := LoadPrivateKey(pemData, password)
	if err != nil {
		return nil, err
	}

	return New(key), nil
}

// LoadPrivateKey parses an RSA private key from PEM data. PKCS#1 and
// PKCS#8 blocks are supported; legacy encrypted PEM blocks are decrypted
// with the given password.
func LoadPrivateKey(pemData []byte, password string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found in private key data")
	}

	der := block.Bytes
	//nolint:staticcheck // legacy RFC 1423 keys are what the provisioning tooling emits
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		//nolint:staticcheck
		der, err = x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, need *rsa.PrivateKey", parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// Open runs the strict unwrap-verify-decrypt pipeline on an envelope and
// returns the plaintext payload. Any failure aborts the single
// notification; callers log and move on to siblings.
func (d *Decryptor) Open(content *notification.EncryptedContent) ([]byte, error) {
	start := time.Now()
	plaintext, err := d.open(content)
	d.metrics.DecryptionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.DecryptionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	d.metrics.DecryptionsTotal.WithLabelValues("ok").Inc()
	return plaintext, nil
}

func (d *Decryptor) open(content *notification.EncryptedContent) ([]byte, error) {
	wrappedKey, err := base64.StdEncoding.DecodeString(content.DataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data key: %w", err)
	}

	// Step 1: unwrap the symmetric key with the local private key. The
	// provider wraps it with RSA-OAEP over the certificate registered on
	// the subscription.
	symmetricKey, err := rsa.DecryptOAEP(sha1.New(), nil, d.key, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap symmetric key: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(content.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	signature, err := base64.StdEncoding.DecodeString(content.DataSignature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	// Step 2: verify the HMAC over the ciphertext before touching the
	// payload. A forged or corrupted envelope must never reach decryption.
	mac := hmac.New(sha256.New, symmetricKey)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), signature) {
		return nil, ErrSignatureMismatch
	}

	// Step 3: AES-CBC decrypt; the IV is the leading bytes of the
	// symmetric key per the provider's envelope format.
	block, err := aes.NewCipher(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	if len(symmetricKey) < aes.BlockSize {
		return nil, errors.New("symmetric key too short for IV")
	}
	iv := symmetricKey[:aes.BlockSize]

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("payload is not a whole number of cipher blocks")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

// pkcs7Unpad strips PKCS#7 padding, validating every padding byte
func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}

	return data[:len(data)-padLen], nil
}
