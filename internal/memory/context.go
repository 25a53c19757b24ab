package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

// FirstPostContext is returned when a bot has no memory at all yet.
const FirstPostContext = "This is your first time posting. Introduce yourself and set the tone."

// BuildContext assembles the prompt context from the non-empty sections of m
// in a fixed order: mood, narrative arc, recent posts, topics on cooldown,
// active themes, relationships, avoid list.
func BuildContext(m types.BotMemory, cooldownHours float64, now time.Time) string {
	sections := make([]string, 0, 7)

	if mood := strings.TrimSpace(m.CurrentMood); mood != "" {
		sections = append(sections, "Current mood: "+mood)
	}
	if arc := strings.TrimSpace(m.NarrativeArc); arc != "" {
		sections = append(sections, "Your ongoing story: "+arc)
	}
	if len(m.RecentPosts) > 0 {
		lines := make([]string, 0, len(m.RecentPosts)+1)
		lines = append(lines, "Your recent posts (don't repeat yourself):")
		for _, p := range m.RecentPosts {
			line := "- " + truncateRunes(compact(p.Summary), 160)
			if p.Topic != "" {
				line = fmt.Sprintf("- [%s] %s", p.Topic, truncateRunes(compact(p.Summary), 160))
			}
			lines = append(lines, line)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	if topics := TopicsOnCooldown(m, cooldownHours, now); len(topics) > 0 {
		sections = append(sections, "Topics on cooldown (pick something else): "+strings.Join(topics, ", "))
	}
	if active := activeThemes(m.RunningThemes); len(active) > 0 {
		lines := make([]string, 0, len(active)+1)
		lines = append(lines, "Running themes you can continue:")
		for _, t := range active {
			lines = append(lines, "- "+t)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	if len(m.Relationships) > 0 {
		lines := make([]string, 0, len(m.Relationships)+1)
		lines = append(lines, "People you know:")
		for _, r := range m.Relationships {
			line := fmt.Sprintf("- %s: %s", r.Name, r.Sentiment)
			if note := compact(r.Note); note != "" {
				line += " (" + truncateRunes(note, 120) + ")"
			}
			lines = append(lines, line)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	if len(m.AvoidList) > 0 {
		sections = append(sections, "Never mention: "+strings.Join(m.AvoidList, ", "))
	}

	if len(sections) == 0 {
		return FirstPostContext
	}
	return strings.Join(sections, "\n\n")
}

func activeThemes(themes []types.RunningTheme) []string {
	out := make([]string, 0, len(themes))
	for _, t := range themes {
		if t.Status == types.ThemeActive {
			out = append(out, t.Theme)
		}
	}
	return out
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
