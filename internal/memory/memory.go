// Package memory keeps a bot's short-term recall and renders it as prompt
// context. Operations return updated copies.
package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

const (
	MaxRecentPosts       = 15
	MaxRunningThemes     = 5
	MaxRelationships     = 20
	MaxAvoidList         = 10
	MaxNarrativeArcRunes = 500
	MaxReflections       = 10

	// CooldownRetention is how long a cooldown entry survives garbage collection.
	CooldownRetention = 24 * time.Hour
	// DefaultTopicCooldownHours is the default window a topic stays blocked.
	DefaultTopicCooldownHours = 6

	ThemeCoolAfter   = 48 * time.Hour
	ThemeRetireAfter = 96 * time.Hour
)

// New returns an empty memory at the current schema version.
func New() types.BotMemory {
	return types.BotMemory{
		Version:        types.MemoryVersion,
		RecentPosts:    []types.PostDigest{},
		TopicCooldowns: map[string]time.Time{},
		RunningThemes:  []types.RunningTheme{},
		Relationships:  []types.RelationshipEntry{},
		AvoidList:      []string{},
		Reflections:    []types.ReflectionInsight{},
	}
}

// Normalize repairs a memory loaded from storage: nil collections become
// empty and over-long lists are truncated to their caps.
func Normalize(m types.BotMemory) types.BotMemory {
	if m.Version == 0 {
		m.Version = types.MemoryVersion
	}
	if m.RecentPosts == nil {
		m.RecentPosts = []types.PostDigest{}
	}
	if m.TopicCooldowns == nil {
		m.TopicCooldowns = map[string]time.Time{}
	}
	if m.RunningThemes == nil {
		m.RunningThemes = []types.RunningTheme{}
	}
	if m.Relationships == nil {
		m.Relationships = []types.RelationshipEntry{}
	}
	if m.AvoidList == nil {
		m.AvoidList = []string{}
	}
	if m.Reflections == nil {
		m.Reflections = []types.ReflectionInsight{}
	}
	m.RecentPosts = capFront(m.RecentPosts, MaxRecentPosts)
	m.RunningThemes = capFront(m.RunningThemes, MaxRunningThemes)
	m.Relationships = capBack(m.Relationships, MaxRelationships)
	m.AvoidList = capBack(m.AvoidList, MaxAvoidList)
	m.Reflections = capFront(m.Reflections, MaxReflections)
	m.NarrativeArc = truncateRunes(strings.TrimSpace(m.NarrativeArc), MaxNarrativeArcRunes)
	return m
}

// AppendPost records a published post: newest first, capped, with the topic
// cooldown and current mood updated from the digest.
func AppendPost(m types.BotMemory, d types.PostDigest) types.BotMemory {
	m = Normalize(m)
	posts := make([]types.PostDigest, 0, len(m.RecentPosts)+1)
	posts = append(posts, d)
	posts = append(posts, m.RecentPosts...)
	m.RecentPosts = capFront(posts, MaxRecentPosts)

	if topic := normalizeKey(d.Topic); topic != "" {
		cooldowns := cloneCooldowns(m.TopicCooldowns)
		cooldowns[topic] = d.PostedAt
		m.TopicCooldowns = cooldowns
	}
	if d.Mood != "" {
		m.CurrentMood = d.Mood
	}
	return m
}

// UpdateRelationshipEntry replaces the entry for the same counterpart or
// appends a new one, dropping the oldest beyond MaxRelationships.
func UpdateRelationshipEntry(m types.BotMemory, e types.RelationshipEntry) types.BotMemory {
	m = Normalize(m)
	rels := make([]types.RelationshipEntry, 0, len(m.Relationships)+1)
	replaced := false
	for _, r := range m.Relationships {
		if strings.EqualFold(r.Name, e.Name) {
			rels = append(rels, e)
			replaced = true
			continue
		}
		rels = append(rels, r)
	}
	if !replaced {
		rels = append(rels, e)
	}
	m.Relationships = capBack(rels, MaxRelationships)
	return m
}

// TopicsOnCooldown returns topics posted within cooldownHours of now, sorted.
func TopicsOnCooldown(m types.BotMemory, cooldownHours float64, now time.Time) []string {
	window := time.Duration(cooldownHours * float64(time.Hour))
	out := make([]string, 0, len(m.TopicCooldowns))
	for topic, at := range m.TopicCooldowns {
		if now.Sub(at) < window {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}

// CleanupCooldowns drops cooldown entries older than CooldownRetention.
func CleanupCooldowns(m types.BotMemory, now time.Time) types.BotMemory {
	if len(m.TopicCooldowns) == 0 {
		return m
	}
	kept := make(map[string]time.Time, len(m.TopicCooldowns))
	for topic, at := range m.TopicCooldowns {
		if now.Sub(at) <= CooldownRetention {
			kept[topic] = at
		}
	}
	m.TopicCooldowns = kept
	return m
}

// TouchTheme revives or bumps an existing theme, or starts a new active one.
// New themes go to the front; when full, a retired theme is evicted first,
// otherwise the oldest.
func TouchTheme(m types.BotMemory, theme string, now time.Time) types.BotMemory {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return m
	}
	m = Normalize(m)
	themes := make([]types.RunningTheme, 0, len(m.RunningThemes)+1)
	for i, t := range m.RunningThemes {
		if !strings.EqualFold(t.Theme, theme) {
			continue
		}
		t.Status = types.ThemeActive
		t.LastMentioned = now
		t.Mentions++
		themes = append(themes, t)
		themes = append(themes, m.RunningThemes[:i]...)
		m.RunningThemes = append(themes, m.RunningThemes[i+1:]...)
		return m
	}

	themes = append(themes, m.RunningThemes...)
	if len(themes) >= MaxRunningThemes {
		themes = evictTheme(themes)
	}
	fresh := types.RunningTheme{
		Theme:         theme,
		Status:        types.ThemeActive,
		StartedAt:     now,
		LastMentioned: now,
		Mentions:      1,
	}
	m.RunningThemes = append([]types.RunningTheme{fresh}, themes...)
	return m
}

func evictTheme(themes []types.RunningTheme) []types.RunningTheme {
	victim := -1
	for i := len(themes) - 1; i >= 0; i-- {
		if themes[i].Status == types.ThemeRetired {
			victim = i
			break
		}
	}
	if victim < 0 {
		victim = len(themes) - 1
	}
	out := make([]types.RunningTheme, 0, len(themes)-1)
	out = append(out, themes[:victim]...)
	return append(out, themes[victim+1:]...)
}

// AdvanceThemes moves themes along active -> cooling-off -> retired based on
// time since they were last mentioned.
func AdvanceThemes(m types.BotMemory, now time.Time) types.BotMemory {
	if len(m.RunningThemes) == 0 {
		return m
	}
	themes := make([]types.RunningTheme, len(m.RunningThemes))
	copy(themes, m.RunningThemes)
	for i := range themes {
		idle := now.Sub(themes[i].LastMentioned)
		switch {
		case idle >= ThemeRetireAfter:
			themes[i].Status = types.ThemeRetired
		case idle >= ThemeCoolAfter && themes[i].Status == types.ThemeActive:
			themes[i].Status = types.ThemeCoolingOff
		}
	}
	m.RunningThemes = themes
	return m
}

// AddAvoid adds an item to the avoid list, ignoring case-insensitive duplicates.
func AddAvoid(m types.BotMemory, item string) types.BotMemory {
	item = strings.TrimSpace(item)
	if item == "" {
		return m
	}
	m = Normalize(m)
	for _, existing := range m.AvoidList {
		if strings.EqualFold(existing, item) {
			return m
		}
	}
	list := make([]string, 0, len(m.AvoidList)+1)
	list = append(list, m.AvoidList...)
	m.AvoidList = capBack(append(list, item), MaxAvoidList)
	return m
}

// SetNarrativeArc replaces the narrative arc, trimmed and capped.
func SetNarrativeArc(m types.BotMemory, arc string) types.BotMemory {
	m.NarrativeArc = truncateRunes(strings.TrimSpace(arc), MaxNarrativeArcRunes)
	return m
}

func capFront[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func capBack[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func cloneCooldowns(in map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit < 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}
