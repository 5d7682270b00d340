// Package cache stores encoded query results for a bounded time.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultTTL is how long a cached result stays valid.
const DefaultTTL = 15 * time.Minute

// Prefix starts every key written by this service.
const Prefix = "pgfe:"

// Cache is a byte-value store with expiry. Get reports a miss with ok false
// and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Flush(ctx context.Context) error
}

// Key builds "pgfe:<kind>:<hash>:<identity>" where hash is the xxhash64 of
// the canonical query encoding.
func Key(kind string, canonical []byte, identity string) string {
	sum := xxhash.Sum64(canonical)
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], sum)
	var b strings.Builder
	b.Grow(len(Prefix) + len(kind) + 16 + len(identity) + 2)
	b.WriteString(Prefix)
	b.WriteString(kind)
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(raw[:]))
	b.WriteByte(':')
	b.WriteString(identity)
	return b.String()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Flush(context.Context) error { return nil }
