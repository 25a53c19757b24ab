// Package reflection decides when a bot should step back and draw conclusions
// from its recent activity, and merges and renders the resulting insights.
// Producing the insight text is left to a generator; this package only parses
// its output.
package reflection

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiy/petpulse/pkg/types"
)

const (
	MinPostsForFirst  = 3
	Cooldown          = 12 * time.Hour
	PostTrigger       = 10
	MaxInsights       = 10
	MaxInsightRunes   = 300
	MaxPromptInsights = 5
)

// ShouldReflect reports whether a reflection is due. The first reflection
// waits for MinPostsForFirst posts; after that either the cooldown or
// PostTrigger new posts make it due again.
func ShouldReflect(m types.BotMemory, now time.Time) bool {
	if len(m.RecentPosts) == 0 {
		return false
	}
	if m.LastReflectionAt.IsZero() {
		return len(m.RecentPosts) >= MinPostsForFirst
	}
	if now.Sub(m.LastReflectionAt) >= Cooldown {
		return true
	}
	return PostsSince(m, m.LastReflectionAt) >= PostTrigger
}

// PostsSince counts recent posts published strictly after t.
func PostsSince(m types.BotMemory, t time.Time) int {
	n := 0
	for _, p := range m.RecentPosts {
		if p.PostedAt.After(t) {
			n++
		}
	}
	return n
}

// ApplyReflections prepends new insights, keeps the newest MaxInsights and
// stamps the reflection time. An empty batch leaves memory untouched so a
// failed generation never resets the schedule.
func ApplyReflections(m types.BotMemory, insights []types.ReflectionInsight, now time.Time) types.BotMemory {
	if len(insights) == 0 {
		return m
	}
	merged := make([]types.ReflectionInsight, 0, len(insights)+len(m.Reflections))
	merged = append(merged, insights...)
	merged = append(merged, m.Reflections...)
	if len(merged) > MaxInsights {
		merged = merged[:MaxInsights]
	}
	m.Reflections = merged
	m.LastReflectionAt = now
	return m
}

// FormatForPrompt renders up to MaxPromptInsights insights, newest first.
func FormatForPrompt(insights []types.ReflectionInsight, now time.Time) string {
	if len(insights) == 0 {
		return ""
	}
	n := min(len(insights), MaxPromptInsights)
	lines := make([]string, 0, n+1)
	lines = append(lines, "Things you've realized lately:")
	for _, in := range insights[:n] {
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", in.Category, in.Insight, ago(now, in.CreatedAt)))
	}
	return strings.Join(lines, "\n")
}

type rawInsight struct {
	Category   string  `json:"category"`
	Insight    string  `json:"insight"`
	Confidence float64 `json:"confidence"`
}

// ParseInsights extracts a JSON array of insights from generator output.
// Code fences and surrounding prose are tolerated; entries with an unknown
// category or empty text are dropped. Unparseable output yields nil.
func ParseInsights(raw string, basedOnPosts int, now time.Time) []types.ReflectionInsight {
	text := stripFences(strings.TrimSpace(raw))

	var items []rawInsight
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
			return nil
		}
	}

	out := make([]types.ReflectionInsight, 0, len(items))
	for _, it := range items {
		cat, err := types.ParseInsightCategory(it.Category)
		if err != nil {
			continue
		}
		body := strings.Join(strings.Fields(it.Insight), " ")
		if body == "" {
			continue
		}
		out = append(out, types.ReflectionInsight{
			ID:           uuid.NewString(),
			Category:     cat,
			Insight:      truncateRunes(body, MaxInsightRunes),
			Confidence:   min(max(it.Confidence, 0), 1),
			BasedOnPosts: basedOnPosts,
			CreatedAt:    now,
		})
	}
	if len(out) > MaxInsights {
		out = out[:MaxInsights]
	}
	return out
}

// BuildPrompt assembles the reflection request for a generator.
func BuildPrompt(botName string, m types.BotMemory, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Look back at what you've been posting and draw a few honest conclusions.\n", botName)
	b.WriteString("Reply with a JSON array of objects with fields \"category\" (self, relationship, world or goal), \"insight\" (one sentence) and \"confidence\" (0 to 1).\n")

	if len(m.RecentPosts) > 0 {
		b.WriteString("\nYour recent posts:\n")
		for _, p := range m.RecentPosts {
			fmt.Fprintf(&b, "- (%s, feeling %s) %s\n", ago(now, p.PostedAt), orDash(p.Mood), p.Summary)
		}
	}
	if len(m.Relationships) > 0 {
		b.WriteString("\nPeople you deal with:\n")
		for _, r := range m.Relationships {
			fmt.Fprintf(&b, "- %s: %s\n", r.Name, r.Sentiment)
		}
	}
	if len(m.Reflections) > 0 {
		b.WriteString("\nWhat you concluded before (don't just repeat it):\n")
		for _, in := range m.Reflections {
			fmt.Fprintf(&b, "- [%s] %s\n", in.Category, in.Insight)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if !strings.HasPrefix(strings.TrimSpace(l), "```") {
			kept = append(kept, l)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
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

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
