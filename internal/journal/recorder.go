// Package journal maintains a hash-chained record of mutating store
// operations. Each entry hashes its canonical payload together with the
// previous entry's hash, and the chain tip is stored alongside the entries,
// so any rewrite of history is detectable by Verify.
package journal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cofferdb/coffer/internal/entity"
	"github.com/cofferdb/coffer/internal/storage"
)

const (
	defaultRecordResult = "success"
	entryIDPrefix       = "jrn"

	// appendRetries bounds how often Record re-hashes on a fresh tip after
	// losing an append race to another process.
	appendRetries = 3
)

// Recorder appends entries to the journal chain. The chain tip is loaded
// lazily on first use; short-lived commands construct a Recorder without
// touching the store.
type Recorder struct {
	repo *storage.JournalRepository

	mu        sync.Mutex
	tipLoaded bool
	chainTip  string
}

func NewRecorder(repo *storage.JournalRepository) (*Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("new journal recorder: repository is nil")
	}
	return &Recorder{repo: repo}, nil
}

// Record appends one event to the chain. The entry hash commits to the
// canonical payload and the current tip; when a concurrent writer moved the
// tip first, the append is re-hashed on the new tip and retried.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Action) == "" {
		return fmt.Errorf("record journal entry: action is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}
	if event.Result == "" {
		event.Result = defaultRecordResult
	}

	detailsJSON, err := canonicalizeDetails(event.Details)
	if err != nil {
		return fmt.Errorf("record journal entry: canonicalize details: %w", err)
	}

	payload := chainEntry{
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		Action:     event.Action,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		Result:     event.Result,
		Details:    detailsJSON,
	}
	canonicalPayload, err := canonicalJSON(payload)
	if err != nil {
		return fmt.Errorf("record journal entry: canonical payload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadTipLocked(ctx); err != nil {
		return err
	}

	id := entity.NewID(entryIDPrefix)
	for attempt := 0; ; attempt++ {
		hash := chainHashHex(r.chainTip, canonicalPayload)
		entry := &storage.JournalEntry{
			ID:          id,
			Action:      event.Action,
			TargetType:  event.TargetType,
			TargetID:    event.TargetID,
			Result:      event.Result,
			DetailsJSON: string(detailsJSON),
			PrevHash:    r.chainTip,
			EntryHash:   hash,
			CreatedAt:   event.Timestamp,
		}

		err := r.repo.AppendWithTip(ctx, entry, hash)
		if err == nil {
			r.chainTip = hash
			return nil
		}
		if !errors.Is(err, storage.ErrJournalConflict) || attempt >= appendRetries {
			return fmt.Errorf("record journal entry: append: %w", err)
		}

		r.tipLoaded = false
		if err := r.loadTipLocked(ctx); err != nil {
			return err
		}
	}
}

func (r *Recorder) loadTipLocked(ctx context.Context) error {
	if r.tipLoaded {
		return nil
	}
	tip, err := r.repo.ChainTip(ctx)
	if err != nil {
		return fmt.Errorf("load journal chain tip: %w", err)
	}
	r.chainTip = tip
	r.tipLoaded = true
	return nil
}

// Verify replays the whole chain from the first entry and checks every link
// plus the stored tip. A failed link is reported in the result, not as an
// error; errors are reserved for the store itself failing.
func (r *Recorder) Verify(ctx context.Context) (*VerifyResult, error) {
	entries, err := r.repo.List(ctx, storage.JournalFilter{Limit: 1_000_000})
	if err != nil {
		return nil, fmt.Errorf("verify journal chain: list entries: %w", err)
	}

	prev := ""
	for _, entry := range entries {
		payload, err := payloadForStoredEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("verify journal chain: entry %s payload: %w", entry.ID, err)
		}
		expected := chainHashHex(prev, payload)
		if subtle.ConstantTimeCompare([]byte(entry.PrevHash), []byte(prev)) != 1 ||
			subtle.ConstantTimeCompare([]byte(entry.EntryHash), []byte(expected)) != 1 {
			return &VerifyResult{
				Valid:      false,
				EntryCount: len(entries),
				ChainTip:   prev,
				Error:      fmt.Sprintf("hash mismatch at entry %s", entry.ID),
			}, nil
		}
		prev = entry.EntryHash
	}

	storedTip, err := r.repo.ChainTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify journal chain: read chain tip: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(storedTip), []byte(prev)) != 1 {
		return &VerifyResult{
			Valid:      false,
			EntryCount: len(entries),
			ChainTip:   prev,
			Error:      "hash mismatch at chain tip",
		}, nil
	}

	return &VerifyResult{
		Valid:      true,
		EntryCount: len(entries),
		ChainTip:   prev,
	}, nil
}

func (r *Recorder) List(ctx context.Context, filter Filter) ([]RecordedEntry, error) {
	entries, err := r.repo.List(ctx, storage.JournalFilter{
		Action:   filter.Action,
		TargetID: filter.TargetID,
		Since:    filter.Since,
		Until:    filter.Until,
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	out := make([]RecordedEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, RecordedEntry{
			ID:          entry.ID,
			Timestamp:   entry.CreatedAt,
			Action:      entry.Action,
			TargetType:  entry.TargetType,
			TargetID:    entry.TargetID,
			Result:      entry.Result,
			DetailsJSON: entry.DetailsJSON,
			PrevHash:    entry.PrevHash,
			EntryHash:   entry.EntryHash,
		})
	}
	return out, nil
}

type chainEntry struct {
	Timestamp  string          `json:"timestamp"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Result     string          `json:"result"`
	Details    json.RawMessage `json:"details"`
}

func payloadForStoredEntry(entry storage.JournalEntry) ([]byte, error) {
	details := strings.TrimSpace(entry.DetailsJSON)
	if details == "" {
		details = "{}"
	}
	if !json.Valid([]byte(details)) {
		return nil, fmt.Errorf("invalid details json")
	}

	payload := chainEntry{
		Timestamp:  entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Result:     firstNonEmpty(entry.Result, defaultRecordResult),
		Details:    json.RawMessage(details),
	}
	return canonicalJSON(payload)
}

func chainHashHex(prevHash string, canonicalPayload []byte) string {
	input := append([]byte(prevHash), canonicalPayload...)
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

func canonicalizeDetails(details any) (json.RawMessage, error) {
	if details == nil {
		return json.RawMessage(`{}`), nil
	}

	raw, err := canonicalJSON(details)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode details json: %w", err)
	}

	sanitized := sanitizeValue(decoded)
	out, err := canonicalJSONFromDecoded(sanitized)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(out), nil
}

func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		clean := make(map[string]any, len(typed))
		for key, nested := range typed {
			if isSensitiveDetailKey(key) {
				continue
			}
			clean[key] = sanitizeValue(nested)
		}
		return clean
	case []any:
		out := make([]any, 0, len(typed))
		for _, nested := range typed {
			out = append(out, sanitizeValue(nested))
		}
		return out
	default:
		return value
	}
}

func isSensitiveDetailKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, pattern := range sensitiveDetailPatterns {
		if strings.Contains(normalized, pattern) {
			return true
		}
	}
	return false
}

var sensitiveDetailPatterns = []string{
	"secret", "passphrase", "password", "token",
	"credential", "api_key", "access_token", "refresh_token",
	"private_key", "secret_key",
}

// canonicalJSON renders v with object keys sorted so the same value always
// hashes the same. Struct input only; maps at the top level have no declared
// field order to anchor the payload shape to.
func canonicalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("canonical json: value is nil")
	}

	root := reflect.ValueOf(v)
	for root.Kind() == reflect.Pointer {
		if root.IsNil() {
			return nil, fmt.Errorf("canonical json: nil pointer")
		}
		root = root.Elem()
	}
	if root.Kind() == reflect.Map {
		return nil, fmt.Errorf("canonical json: map input is not allowed")
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: marshal: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("canonical json: unmarshal: %w", err)
	}

	return canonicalJSONFromDecoded(decoded)
}

func canonicalJSONFromDecoded(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonicalJSON(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonicalJSON(buf *bytes.Buffer, value any) error {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(key)
			if err != nil {
				return fmt.Errorf("canonical json: marshal key: %w", err)
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonicalJSON(buf, typed[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range typed {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonicalJSON(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return fmt.Errorf("canonical json: marshal scalar: %w", err)
		}
		buf.Write(raw)
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
