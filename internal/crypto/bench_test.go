package crypto_test

import (
	"crypto/rand"
	"testing"

	cryptopkg "github.com/cofferdb/coffer/internal/crypto"
	"github.com/awnumar/memguard"
)

func BenchmarkKeyDerivation(b *testing.B) {
	params := cryptopkg.DefaultArgon2Params()
	passphrase := []byte("correct horse battery staple")
	salt := make([]byte, cryptopkg.DefaultArgon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		b.Fatalf("generate salt: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key, err := cryptopkg.DeriveKeyFromPassphrase(passphrase, salt, params)
		if err != nil {
			b.Fatalf("derive key: %v", err)
		}
		memguard.WipeBytes(key)
	}
}

func BenchmarkEnvelopeOpen(b *testing.B) {
	passphrase := []byte("correct horse battery staple")
	aad := []byte("coffer.backup.v1")
	payload := make([]byte, 1<<20)
	if _, err := rand.Read(payload); err != nil {
		b.Fatalf("generate payload: %v", err)
	}

	raw, err := cryptopkg.SealEnvelope(payload, passphrase, aad)
	if err != nil {
		b.Fatalf("seal envelope: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cryptopkg.OpenEnvelope(raw, passphrase, aad); err != nil {
			b.Fatalf("open envelope: %v", err)
		}
	}
}
