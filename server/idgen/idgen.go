// Package idgen generates compact session identifiers for log correlation.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"sync/atomic"
	"time"
)

var (
	sequence uint32

	// base32 without padding keeps the IDs short and log-friendly
	encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)
)

// New returns a 20-character lowercase ID built from a truncated timestamp,
// an atomic sequence number and random bytes:
//   - 4 bytes: seconds since epoch
//   - 2 bytes: sequence
//   - 6 bytes: random
func New() string {
	timestamp := uint32(time.Now().Unix())
	seq := atomic.AddUint32(&sequence, 1) & 0xFFFF

	id := make([]byte, 12)
	id[0] = byte(timestamp >> 24)
	id[1] = byte(timestamp >> 16)
	id[2] = byte(timestamp >> 8)
	id[3] = byte(timestamp)
	id[4] = byte(seq >> 8)
	id[5] = byte(seq)
	// The sequence already guarantees uniqueness within a second; random
	// bytes guard against restarts reusing IDs.
	if _, err := rand.Read(id[6:]); err != nil {
		ns := time.Now().UnixNano()
		for i := 6; i < 12; i++ {
			id[i] = byte(ns >> (8 * (i - 6)))
		}
	}

	return strings.ToLower(encoding.EncodeToString(id))
}
