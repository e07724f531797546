package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// An envelope is a self-describing passphrase-encrypted blob: the KDF
// parameters, salt and nonce travel with the ciphertext, so a backup can be
// opened years later with nothing but the passphrase. The AEAD key is an
// HKDF subkey of the Argon2id output, bound to the envelope purpose by the
// info string.

const (
	EnvelopeVersion = 1

	envelopeKDF     = "argon2id"
	envelopeKeyInfo = "coffer.envelope.v1.key"

	// Bounds for Argon2 parameters read from untrusted envelopes. These
	// prevent DoS via extreme memory or iteration values in crafted files.
	maxEnvelopeArgon2Memory     = 1 << 20 // 1 GiB in KiB units
	maxEnvelopeArgon2Iterations = 20
	minEnvelopeArgon2Memory     = 64 << 10 // 64 MiB in KiB units
)

var (
	ErrInvalidEnvelope    = errors.New("invalid envelope")
	ErrPassphraseRequired = errors.New("passphrase is required")
)

type Envelope struct {
	Version      int                  `json:"version"`
	KDF          string               `json:"kdf"`
	Argon2Params EnvelopeArgon2Params `json:"argon2_params"`
	Salt         []byte               `json:"salt"`
	Nonce        []byte               `json:"nonce"`
	Ciphertext   []byte               `json:"ciphertext"`
}

type EnvelopeArgon2Params struct {
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
	SaltLen     int    `json:"salt_len"`
	KeyLen      uint32 `json:"key_len"`
}

// SealEnvelope encrypts plaintext under a passphrase-derived key and returns
// the serialized envelope. The aad binds the envelope to its purpose; the
// same aad must be presented to OpenEnvelope.
func SealEnvelope(plaintext, passphrase, aad []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("seal envelope: %w", ErrPassphraseRequired)
	}

	params := DefaultArgon2Params()
	salt := make([]byte, params.SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("seal envelope: generate salt: %w", err)
	}

	key, err := deriveEnvelopeKey(passphrase, salt, params)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}
	defer memguard.WipeBytes(key)

	nonce, err := randomNonce(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}
	ciphertext, err := SealXChaCha20Poly1305(key, nonce, plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}

	envelope := Envelope{
		Version: EnvelopeVersion,
		KDF:     envelopeKDF,
		Argon2Params: EnvelopeArgon2Params{
			Memory:      params.Memory,
			Iterations:  params.Iterations,
			Parallelism: params.Parallelism,
			SaltLen:     params.SaltLen,
			KeyLen:      params.KeyLen,
		},
		Salt:       append([]byte(nil), salt...),
		Nonce:      append([]byte(nil), nonce...),
		Ciphertext: append([]byte(nil), ciphertext...),
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: encode: %w", err)
	}
	return out, nil
}

// OpenEnvelope decrypts a serialized envelope with the passphrase it was
// sealed under. KDF parameters from the envelope are clamped before use.
func OpenEnvelope(raw, passphrase, aad []byte) ([]byte, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidEnvelope, err)
	}
	if envelope.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, envelope.Version)
	}
	if envelope.KDF != envelopeKDF {
		return nil, fmt.Errorf("%w: unsupported kdf %q", ErrInvalidEnvelope, envelope.KDF)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("open envelope: %w", ErrPassphraseRequired)
	}

	params, err := clampEnvelopeArgon2Params(envelope.Argon2Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	key, err := deriveEnvelopeKey(passphrase, envelope.Salt, params)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	defer memguard.WipeBytes(key)

	plaintext, err := OpenXChaCha20Poly1305(key, envelope.Nonce, envelope.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

func deriveEnvelopeKey(passphrase, salt []byte, params Argon2Params) ([]byte, error) {
	master, err := DeriveKeyFromPassphrase(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(master)

	key, err := DeriveHKDFSHA256(master, salt, []byte(envelopeKeyInfo), int(params.KeyLen))
	if err != nil {
		return nil, err
	}
	return key, nil
}

// clampEnvelopeArgon2Params validates and caps parameters from untrusted
// envelopes. Values below the floor are raised; values past the ceiling are
// rejected rather than silently weakened.
func clampEnvelopeArgon2Params(ep EnvelopeArgon2Params) (Argon2Params, error) {
	memory := ep.Memory
	if memory < minEnvelopeArgon2Memory {
		memory = minEnvelopeArgon2Memory
	}
	if memory > maxEnvelopeArgon2Memory {
		return Argon2Params{}, fmt.Errorf("argon2 memory %d KiB exceeds safe maximum %d KiB", ep.Memory, maxEnvelopeArgon2Memory)
	}

	iterations := ep.Iterations
	if iterations < 1 {
		iterations = 1
	}
	if iterations > maxEnvelopeArgon2Iterations {
		return Argon2Params{}, fmt.Errorf("argon2 iterations %d exceeds safe maximum %d", ep.Iterations, maxEnvelopeArgon2Iterations)
	}

	parallelism := ep.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > 16 {
		parallelism = 16
	}

	keyLen := ep.KeyLen
	if keyLen != 32 {
		keyLen = 32
	}

	saltLen := ep.SaltLen
	if saltLen < 16 {
		saltLen = 16
	}

	return Argon2Params{
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: parallelism,
		SaltLen:     saltLen,
		KeyLen:      keyLen,
	}, nil
}
