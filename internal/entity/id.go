package entity

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Record ids are `<prefix>_<time36>_<rand36>`: a millisecond timestamp and a
// per-millisecond counter, both base36 and zero-padded to fixed width so the
// string order equals the generation order. The counter starts at a random
// value each millisecond, increments for collisions within it and borrows
// the next millisecond on overflow, so ids are strictly increasing even when
// the clock stalls or steps back.

const (
	// idEpoch is 2024-01-01 00:00:00 UTC in milliseconds. Eight base36
	// digits of milliseconds past it last until the early 2100s.
	idEpoch int64 = 1704067200000

	idTimeWidth = 8
	idRandWidth = 4
)

var (
	idMu      sync.Mutex
	idLastMs  int64
	idCounter uint16
)

// NewID generates a time-sortable id for the given prefix. Ids are
// monotonically increasing within a process.
func NewID(prefix string) string {
	idMu.Lock()
	defer idMu.Unlock()

	ms := time.Now().UnixMilli() - idEpoch
	if ms < 0 {
		ms = 0
	}

	if ms > idLastMs {
		idLastMs = ms
		var b [2]byte
		_, _ = rand.Read(b[:])
		idCounter = binary.BigEndian.Uint16(b[:])
	} else {
		idCounter++
		if idCounter == 0 {
			idLastMs++
		}
	}

	return prefix + "_" + base36(uint64(idLastMs), idTimeWidth) + "_" + base36(uint64(idCounter), idRandWidth)
}

func base36(v uint64, width int) string {
	s := strconv.FormatUint(v, 36)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}
