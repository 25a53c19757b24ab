package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownEventType   = errors.New("unknown mood event type")
	ErrUnknownChronotype  = errors.New("unknown chronotype")
	ErrUnknownFrequency   = errors.New("unknown posting frequency")
	ErrUnknownCategory    = errors.New("unknown insight category")
	ErrUnknownInteraction = errors.New("unknown interaction type")
	ErrInvalidUTCOffset   = errors.New("utc offset must be within [-12, 14] hours")
	ErrBotIDRequired      = errors.New("bot id is required")
)

// MoodEventType is the closed set of things that can move a bot's mood.
type MoodEventType string

const (
	EventPostLiked          MoodEventType = "post_liked"
	EventGotReply           MoodEventType = "got_reply"
	EventGotMentioned       MoodEventType = "got_mentioned"
	EventBeefInteraction    MoodEventType = "beef_interaction"
	EventHypeReceived       MoodEventType = "hype_received"
	EventIgnored            MoodEventType = "ignored"
	EventMorning            MoodEventType = "morning"
	EventLateNight          MoodEventType = "late_night"
	EventPostedSuccessfully MoodEventType = "posted_successfully"
)

var moodEventTypes = []MoodEventType{
	EventPostLiked, EventGotReply, EventGotMentioned, EventBeefInteraction,
	EventHypeReceived, EventIgnored, EventMorning, EventLateNight, EventPostedSuccessfully,
}

// ParseMoodEventType validates raw event names coming from collaborators.
func ParseMoodEventType(s string) (MoodEventType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, t := range moodEventTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

// MoodEvent is a single discrete stimulus applied to a MoodState.
type MoodEvent struct {
	Type MoodEventType `json:"type"`
	At   time.Time     `json:"at"`
}

// MoodState is a point in PAD space. Every axis stays within [-1, 1].
type MoodState struct {
	Pleasure       float64   `json:"pleasure"`
	Arousal        float64   `json:"arousal"`
	Dominance      float64   `json:"dominance"`
	CurrentEmotion string    `json:"current_emotion"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Chronotype controls which local hours a bot is naturally active.
type Chronotype string

const (
	ChronotypeEarlyBird Chronotype = "early-bird"
	ChronotypeNormal    Chronotype = "normal"
	ChronotypeNightOwl  Chronotype = "night-owl"
)

// ParseChronotype accepts the canonical names plus underscore spellings.
func ParseChronotype(s string) (Chronotype, error) {
	s = strings.ReplaceAll(strings.TrimSpace(strings.ToLower(s)), "_", "-")
	switch Chronotype(s) {
	case ChronotypeEarlyBird, ChronotypeNormal, ChronotypeNightOwl:
		return Chronotype(s), nil
	case "":
		return ChronotypeNormal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChronotype, s)
}

// Frequency is the posting-frequency tier.
type Frequency string

const (
	FrequencyHigh   Frequency = "high"
	FrequencyMedium Frequency = "medium"
	FrequencyLow    Frequency = "low"
)

func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch Frequency(s) {
	case FrequencyHigh, FrequencyMedium, FrequencyLow:
		return Frequency(s), nil
	case "":
		return FrequencyMedium, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
}

// Traits are the personality knobs the rhythm engine reads. Values in [0, 1].
type Traits struct {
	Extraversion float64 `json:"extraversion" yaml:"extraversion"`
	Impulsivity  float64 `json:"impulsivity" yaml:"impulsivity"`
}

// Bot is the validated agent configuration handed to the engine.
type Bot struct {
	ID             string     `json:"id" yaml:"id"`
	Name           string     `json:"name" yaml:"name"`
	Archetype      string     `json:"archetype" yaml:"archetype"`
	Chronotype     Chronotype `json:"chronotype" yaml:"chronotype"`
	Frequency      Frequency  `json:"frequency" yaml:"frequency"`
	Traits         Traits     `json:"traits" yaml:"traits"`
	UTCOffsetHours float64    `json:"utc_offset_hours" yaml:"utc_offset_hours"`
	Active         bool       `json:"active" yaml:"active"`
}

// Validate normalizes enumerations in place and rejects malformed config.
func (b *Bot) Validate() error {
	b.ID = strings.TrimSpace(b.ID)
	if b.ID == "" {
		return ErrBotIDRequired
	}
	if strings.TrimSpace(b.Name) == "" {
		b.Name = b.ID
	}
	b.Archetype = strings.TrimSpace(strings.ToLower(b.Archetype))
	ct, err := ParseChronotype(string(b.Chronotype))
	if err != nil {
		return err
	}
	b.Chronotype = ct
	fq, err := ParseFrequency(string(b.Frequency))
	if err != nil {
		return err
	}
	b.Frequency = fq
	if b.UTCOffsetHours < -12 || b.UTCOffsetHours > 14 {
		return ErrInvalidUTCOffset
	}
	b.Traits.Extraversion = clampUnit(b.Traits.Extraversion)
	b.Traits.Impulsivity = clampUnit(b.Traits.Impulsivity)
	return nil
}

// Burst is a run of chained posts. A zero ExpiresAt means the burst is armed
// but its window only opens on the next regular post.
type Burst struct {
	Remaining int       `json:"remaining"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScheduleState is the rhythm engine's per-bot persisted state.
// Dates are local calendar dates formatted as 2006-01-02.
type ScheduleState struct {
	LastPostAt     time.Time `json:"last_post_at"`
	PostsToday     int       `json:"posts_today"`
	PostsTodayDate string    `json:"posts_today_date"`
	DailyMood      float64   `json:"daily_mood"`
	DailyMoodLabel string    `json:"daily_mood_label"`
	DailyMoodDate  string    `json:"daily_mood_date"`
	Burst          *Burst    `json:"burst,omitempty"`
	// LastMorningDate is the local date the morning mood boost was last applied.
	LastMorningDate string `json:"last_morning_date,omitempty"`
}

// PostDigest is the compact record of one published post.
type PostDigest struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Topic    string    `json:"topic"`
	Mood     string    `json:"mood"`
	PostedAt time.Time `json:"posted_at"`
}

// ThemeStatus is the lifecycle stage of a running theme.
type ThemeStatus string

const (
	ThemeActive     ThemeStatus = "active"
	ThemeCoolingOff ThemeStatus = "cooling-off"
	ThemeRetired    ThemeStatus = "retired"
)

// RunningTheme is a narrative thread a bot keeps returning to.
type RunningTheme struct {
	Theme         string      `json:"theme"`
	Status        ThemeStatus `json:"status"`
	StartedAt     time.Time   `json:"started_at"`
	LastMentioned time.Time   `json:"last_mentioned"`
	Mentions      int         `json:"mentions"`
}

// RelationshipEntry is the lightweight copy of a relationship kept in memory.
type RelationshipEntry struct {
	Name            string    `json:"name"`
	Sentiment       Sentiment `json:"sentiment"`
	Note            string    `json:"note,omitempty"`
	LastInteraction time.Time `json:"last_interaction"`
}

// InsightCategory is the closed set of reflection categories.
type InsightCategory string

const (
	CategorySelf         InsightCategory = "self"
	CategoryRelationship InsightCategory = "relationship"
	CategoryWorld        InsightCategory = "world"
	CategoryGoal         InsightCategory = "goal"
)

func ParseInsightCategory(s string) (InsightCategory, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch InsightCategory(s) {
	case CategorySelf, CategoryRelationship, CategoryWorld, CategoryGoal:
		return InsightCategory(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ReflectionInsight is one higher-order conclusion a bot drew about itself.
type ReflectionInsight struct {
	ID           string          `json:"id"`
	Category     InsightCategory `json:"category"`
	Insight      string          `json:"insight"`
	Confidence   float64         `json:"confidence"`
	BasedOnPosts int             `json:"based_on_posts"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MemoryVersion is the current BotMemory schema version.
const MemoryVersion = 1

// BotMemory is a bot's bounded rolling history.
type BotMemory struct {
	Version          int                  `json:"version"`
	RecentPosts      []PostDigest         `json:"recent_posts"`
	TopicCooldowns   map[string]time.Time `json:"topic_cooldowns"`
	RunningThemes    []RunningTheme       `json:"running_themes"`
	Relationships    []RelationshipEntry  `json:"relationships"`
	NarrativeArc     string               `json:"narrative_arc"`
	CurrentMood      string               `json:"current_mood"`
	AvoidList        []string             `json:"avoid_list"`
	Reflections      []ReflectionInsight  `json:"reflections"`
	LastReflectionAt time.Time            `json:"last_reflection_at"`
}

// Sentiment is the closed set of relationship labels.
type Sentiment string

const (
	SentimentAcquaintance Sentiment = "acquaintance"
	SentimentFan          Sentiment = "fan"
	SentimentFriend       Sentiment = "friend"
	SentimentCrush        Sentiment = "crush"
	SentimentHater        Sentiment = "hater"
	SentimentRival        Sentiment = "rival"
	SentimentNemesis      Sentiment = "nemesis"
)

// InteractionType names a social interaction between two bots.
type InteractionType string

const (
	InteractionHype            InteractionType = "hype"
	InteractionBeef            InteractionType = "beef"
	InteractionReplyPositive   InteractionType = "reply_positive"
	InteractionReplyDismissive InteractionType = "reply_dismissive"
	InteractionMention         InteractionType = "mention"
	InteractionFlirt           InteractionType = "flirt"
	InteractionCollab          InteractionType = "collab"
	InteractionLike            InteractionType = "like"
	InteractionDebate          InteractionType = "debate"
	InteractionIgnore          InteractionType = "ignore"
)

var interactionTypes = []InteractionType{
	InteractionHype, InteractionBeef, InteractionReplyPositive, InteractionReplyDismissive,
	InteractionMention, InteractionFlirt, InteractionCollab, InteractionLike,
	InteractionDebate, InteractionIgnore,
}

// ParseInteractionType validates interaction names from collaborators.
func ParseInteractionType(s string) (InteractionType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, t := range interactionTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInteraction, s)
}

// RelationshipData is the canonical row for an unordered pair of bots.
// PetIDA < PetIDB always holds.
type RelationshipData struct {
	PetIDA              string          `json:"pet_id_a"`
	PetIDB              string          `json:"pet_id_b"`
	Sentiment           Sentiment       `json:"sentiment"`
	SentimentScore      float64         `json:"sentiment_score"`
	InteractionCount    int             `json:"interaction_count"`
	LastInteractionType InteractionType `json:"last_interaction_type"`
	LastInteractionAt   time.Time       `json:"last_interaction_at"`
	Version             int64           `json:"version"`
}

// Other returns the counterpart of self within the pair.
func (r RelationshipData) Other(self string) string {
	if r.PetIDA == self {
		return r.PetIDB
	}
	return r.PetIDA
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
