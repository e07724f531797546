package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/cofferdb/coffer/internal/crypto"
	"github.com/cofferdb/coffer/internal/storage"
)

const manifestVersion = 1

// backupAAD binds encrypted payloads to their purpose; an envelope sealed
// for anything else will not open here.
var backupAAD = []byte("coffer.backup.v1")

// Manifest describes one backup: what was snapshotted, where the payload
// lives, and the checksum that guards the restore path. The checksum covers
// the stored object, so integrity is verified before any decryption.
type Manifest struct {
	ID             string           `json:"id"`
	Version        int              `json:"version"`
	CreatedAt      string           `json:"created_at"`
	CatalogVersion int              `json:"catalog_version"`
	SchemaVersion  int              `json:"schema_version"`
	Collections    map[string]int64 `json:"collections"`
	PayloadKey     string           `json:"payload_key"`
	PayloadSHA256  string           `json:"payload_sha256"`
	RawSizeBytes   int64            `json:"raw_size_bytes"`
	SizeBytes      int64            `json:"size_bytes"`
	Encrypted      bool             `json:"encrypted,omitempty"`
}

// Service creates backups of one store into an ObjectStorage destination.
type Service struct {
	store *storage.Store
	dest  ObjectStorage
	log   *slog.Logger
}

func NewService(store *storage.Store, dest ObjectStorage, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, dest: dest, log: log}
}

// Create checkpoints the WAL, snapshots the database with VACUUM INTO,
// compresses the snapshot, and writes the payload and manifest objects. A
// non-empty passphrase seals the compressed payload in an encryption
// envelope; an empty one stores it as plain compressed bytes.
func (s *Service) Create(ctx context.Context, passphrase []byte) (*Manifest, error) {
	db, err := s.store.DB(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return nil, fmt.Errorf("create backup: wal checkpoint: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "coffer-backup-")
	if err != nil {
		return nil, fmt.Errorf("create backup: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// VACUUM INTO refuses to overwrite, so the snapshot path must not exist.
	snapshotPath := filepath.Join(tmpDir, "snapshot.db")
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, snapshotPath); err != nil {
		return nil, fmt.Errorf("create backup: vacuum into snapshot: %w", err)
	}
	raw, err := os.ReadFile(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("create backup: read snapshot: %w", err)
	}
	payload := snappy.Encode(nil, raw)

	encrypted := len(passphrase) > 0
	if encrypted {
		payload, err = crypto.SealEnvelope(payload, passphrase, backupAAD)
		if err != nil {
			return nil, fmt.Errorf("create backup: encrypt payload: %w", err)
		}
	}

	cat := s.store.Catalog()
	counts := make(map[string]int64, len(cat.Collections))
	for _, col := range cat.Collections {
		n, err := s.store.Count(ctx, col.Name)
		if err != nil {
			return nil, fmt.Errorf("create backup: count %s: %w", col.Name, err)
		}
		counts[col.Name] = n
	}
	schemaVersion, err := s.store.SchemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("create backup: read schema version: %w", err)
	}

	id := uuid.NewString()
	manifest := &Manifest{
		ID:             id,
		Version:        manifestVersion,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		CatalogVersion: cat.Version,
		SchemaVersion:  schemaVersion,
		Collections:    counts,
		PayloadKey:     payloadKey(id, encrypted),
		PayloadSHA256:  sha256Hex(payload),
		RawSizeBytes:   int64(len(raw)),
		SizeBytes:      int64(len(payload)),
		Encrypted:      encrypted,
	}

	if err := s.dest.Put(ctx, manifest.PayloadKey, payload); err != nil {
		return nil, fmt.Errorf("create backup: store payload: %w", err)
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("create backup: marshal manifest: %w", err)
	}
	if err := s.dest.Put(ctx, manifestKey(id), manifestBytes); err != nil {
		return nil, fmt.Errorf("create backup: store manifest: %w", err)
	}

	s.log.Info("backup created",
		"backup_id", id,
		"size_bytes", manifest.SizeBytes,
		"raw_size_bytes", manifest.RawSizeBytes,
		"encrypted", encrypted)
	return manifest, nil
}

// Restore fetches a backup from src and writes the decompressed snapshot to
// targetPath. An existing store at targetPath is refused unless force is
// set; a forced restore also clears stale WAL sidecar files. Encrypted
// backups need the passphrase they were sealed with.
func Restore(ctx context.Context, src ObjectStorage, id, targetPath string, passphrase []byte, force bool) (*Manifest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("restore backup: backup id is required")
	}
	if strings.TrimSpace(targetPath) == "" {
		return nil, fmt.Errorf("restore backup: target path is required")
	}
	if _, err := os.Stat(targetPath); err == nil && !force {
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, targetPath)
	}

	manifestBytes, err := src.Get(ctx, manifestKey(id))
	if err != nil {
		return nil, fmt.Errorf("restore backup: fetch manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("restore backup: decode manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("restore backup: unsupported manifest version %d", manifest.Version)
	}

	payload, err := src.Get(ctx, manifest.PayloadKey)
	if err != nil {
		return nil, fmt.Errorf("restore backup: fetch payload: %w", err)
	}
	if got := sha256Hex(payload); !strings.EqualFold(got, manifest.PayloadSHA256) {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, manifest.PayloadKey)
	}
	if manifest.Encrypted {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("restore backup: %w", crypto.ErrPassphraseRequired)
		}
		payload, err = crypto.OpenEnvelope(payload, passphrase, backupAAD)
		if err != nil {
			return nil, fmt.Errorf("restore backup: decrypt payload: %w", err)
		}
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("restore backup: decompress payload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o700); err != nil {
		return nil, fmt.Errorf("restore backup: create target directory: %w", err)
	}
	// A leftover -wal from the replaced store would corrupt the snapshot.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(targetPath + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("restore backup: remove stale %s file: %w", suffix, err)
		}
	}
	if err := os.WriteFile(targetPath, raw, 0o600); err != nil {
		return nil, fmt.Errorf("restore backup: write store file: %w", err)
	}
	return &manifest, nil
}

// List fetches every manifest in src, oldest first.
func List(ctx context.Context, src ObjectStorage) ([]Manifest, error) {
	keys, err := src.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var manifests []Manifest
	for _, key := range keys {
		if !strings.HasSuffix(key, manifestSuffix) {
			continue
		}
		data, err := src.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list backups: fetch %q: %w", key, err)
		}
		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("list backups: decode %q: %w", key, err)
		}
		manifests = append(manifests, manifest)
	}
	// RFC3339Nano trims trailing zeros, so compare parsed times, not strings.
	sort.Slice(manifests, func(i, j int) bool {
		ti, _ := time.Parse(time.RFC3339Nano, manifests[i].CreatedAt)
		tj, _ := time.Parse(time.RFC3339Nano, manifests[j].CreatedAt)
		return ti.Before(tj)
	})
	return manifests, nil
}

const (
	payloadSuffix          = ".db.sz"
	encryptedPayloadSuffix = ".db.sz.enc"
	manifestSuffix         = ".manifest.json"
)

func payloadKey(id string, encrypted bool) string {
	if encrypted {
		return id + encryptedPayloadSuffix
	}
	return id + payloadSuffix
}

func manifestKey(id string) string {
	return id + manifestSuffix
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
