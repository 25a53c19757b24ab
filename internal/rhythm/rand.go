package rhythm

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"time"
)

// NewRand returns a PCG source seeded from the bot id and now truncated to
// the minute, so re-running a tick for the same bot and minute replays the
// same draws.
func NewRand(botID string, now time.Time) *rand.Rand {
	key := botID + ":" + now.UTC().Truncate(time.Minute).Format(time.RFC3339)
	h := sha256.Sum256([]byte(key))
	return rand.New(rand.NewPCG(binary.BigEndian.Uint64(h[:8]), binary.BigEndian.Uint64(h[8:16])))
}
