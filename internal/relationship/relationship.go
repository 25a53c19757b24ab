// Package relationship tracks how pairs of bots feel about each other.
//
// A relationship is stored once per unordered pair under its canonical key
// (lexicographically smaller id first), so A->B and B->A resolve to the same
// record.
package relationship

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

// ErrInvalidPair is returned when a pair is missing an id or names the same bot twice.
var ErrInvalidPair = errors.New("relationship needs two distinct bot ids")

// MaxRecentMessages bounds how many exchanged messages FormatForPrompt renders.
const MaxRecentMessages = 5

// PairKey identifies an unordered pair. A < B always holds.
type PairKey struct {
	A string
	B string
}

func (k PairKey) String() string {
	return k.A + ":" + k.B
}

// Normalize orders two ids lexicographically.
func Normalize(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Key validates and normalizes a pair.
func Key(a, b string) (PairKey, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return PairKey{}, fmt.Errorf("%w: %q, %q", ErrInvalidPair, a, b)
	}
	a, b = Normalize(a, b)
	return PairKey{A: a, B: b}, nil
}

var sentimentDeltas = map[types.InteractionType]float64{
	types.InteractionHype:            0.15,
	types.InteractionBeef:            -0.15,
	types.InteractionReplyPositive:   0.08,
	types.InteractionReplyDismissive: -0.12,
	types.InteractionMention:         0.05,
	types.InteractionFlirt:           0.10,
	types.InteractionCollab:          0.12,
	types.InteractionLike:            0.03,
	types.InteractionDebate:          -0.05,
	types.InteractionIgnore:          -0.02,
}

// SentimentDelta returns the score change for an interaction; unknown types move nothing.
func SentimentDelta(t types.InteractionType) float64 {
	return sentimentDeltas[t]
}

// DeriveSentimentLabel maps a score to a label. A flirt that leaves the score
// positive always reads as a crush.
func DeriveSentimentLabel(score float64, t types.InteractionType) types.Sentiment {
	switch {
	case t == types.InteractionFlirt && score > 0:
		return types.SentimentCrush
	case score > 0.6:
		return types.SentimentFriend
	case score > 0.3:
		return types.SentimentFan
	case score < -0.85:
		return types.SentimentNemesis
	case score < -0.5:
		return types.SentimentRival
	case score < -0.2:
		return types.SentimentHater
	default:
		return types.SentimentAcquaintance
	}
}

// Apply computes the relationship after one interaction between a and b.
// existing may be nil on first contact. explicit, when set, overrides the
// table delta. The stored Version is carried through untouched; persistence
// owns it.
func Apply(existing *types.RelationshipData, a, b string, t types.InteractionType, explicit *float64, now time.Time) (types.RelationshipData, error) {
	key, err := Key(a, b)
	if err != nil {
		return types.RelationshipData{}, err
	}

	rel := types.RelationshipData{PetIDA: key.A, PetIDB: key.B}
	if existing != nil {
		rel.SentimentScore = existing.SentimentScore
		rel.InteractionCount = existing.InteractionCount
		rel.Version = existing.Version
	}

	delta := SentimentDelta(t)
	if explicit != nil {
		delta = *explicit
	}
	rel.SentimentScore = clamp(rel.SentimentScore + delta)
	rel.Sentiment = DeriveSentimentLabel(rel.SentimentScore, t)
	rel.InteractionCount++
	rel.LastInteractionType = t
	rel.LastInteractionAt = now
	return rel, nil
}

// Graph is an in-memory arena of relationships keyed by canonical pair.
type Graph map[PairKey]types.RelationshipData

// Get looks up the relationship between a and b in either order.
func (g Graph) Get(a, b string) (types.RelationshipData, bool) {
	key, err := Key(a, b)
	if err != nil {
		return types.RelationshipData{}, false
	}
	rel, ok := g[key]
	return rel, ok
}

// Record applies an interaction and upserts the result.
func (g Graph) Record(a, b string, t types.InteractionType, explicit *float64, now time.Time) (types.RelationshipData, error) {
	key, err := Key(a, b)
	if err != nil {
		return types.RelationshipData{}, err
	}
	var existing *types.RelationshipData
	if rel, ok := g[key]; ok {
		existing = &rel
	}
	next, err := Apply(existing, a, b, t, explicit, now)
	if err != nil {
		return types.RelationshipData{}, err
	}
	g[key] = next
	return next, nil
}

// Entry converts a relationship into the lightweight memory entry seen from self.
func Entry(rel types.RelationshipData, self, otherName string) types.RelationshipEntry {
	if otherName == "" {
		otherName = rel.Other(self)
	}
	return types.RelationshipEntry{
		Name:            otherName,
		Sentiment:       rel.Sentiment,
		Note:            fmt.Sprintf("last: %s, %d interactions", rel.LastInteractionType, rel.InteractionCount),
		LastInteraction: rel.LastInteractionAt,
	}
}

// FormatForPrompt describes the relationship from selfID's point of view.
// rel may be nil when the bots have never interacted.
func FormatForPrompt(rel *types.RelationshipData, selfID, otherName string, recent []string, now time.Time) string {
	if otherName == "" && rel != nil {
		otherName = rel.Other(selfID)
	}
	if otherName == "" {
		otherName = "them"
	}

	var b strings.Builder
	if rel == nil || rel.InteractionCount == 0 {
		fmt.Fprintf(&b, "You haven't interacted with %s before. Make a first impression.", otherName)
	} else {
		fmt.Fprintf(&b, "You and %s: %s (score %.2f, %d interactions).", otherName, rel.Sentiment, rel.SentimentScore, rel.InteractionCount)
		if !rel.LastInteractionAt.IsZero() {
			fmt.Fprintf(&b, " Last interaction: %s, %s.", rel.LastInteractionType, ago(now, rel.LastInteractionAt))
		}
		if g := guidance(*rel); g != "" {
			b.WriteString("\n")
			b.WriteString(g)
		}
	}

	if n := min(len(recent), MaxRecentMessages); n > 0 {
		b.WriteString("\nRecent messages between you:")
		for _, msg := range recent[:n] {
			b.WriteString("\n- ")
			b.WriteString(strings.TrimSpace(msg))
		}
	}
	return b.String()
}

func guidance(rel types.RelationshipData) string {
	if rel.Sentiment == types.SentimentCrush {
		return "You have a crush on them. Be a little flustered and sweet."
	}
	switch s := rel.SentimentScore; {
	case s > 0.6:
		return "You genuinely like them. Be warm and supportive."
	case s > 0.3:
		return "You're a fan. Hype them up when it fits."
	case s < -0.85:
		return "They are your nemesis. Every exchange is a battle."
	case s < -0.5:
		return "You're rivals. Keep the edge, stay competitive."
	case s < -0.2:
		return "They get on your nerves. A little shade is fine."
	}
	return ""
}

func ago(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Hour:
		return "just now"
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
