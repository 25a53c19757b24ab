// Package emotion implements the PAD (pleasure, arousal, dominance) mood model.
// Every transform is pure: the caller supplies the current time via events or
// elapsed hours and persists the returned state.
package emotion

import (
	"math"
	"strings"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

// HalfLifeHours is how long it takes a mood to close half the gap to baseline.
const HalfLifeHours = 6.0

// Delta is a change applied to each PAD axis.
type Delta struct {
	Pleasure  float64
	Arousal   float64
	Dominance float64
}

var eventDeltas = map[types.MoodEventType]Delta{
	types.EventPostLiked:          {Pleasure: 0.10, Arousal: 0.05, Dominance: 0.05},
	types.EventGotReply:           {Pleasure: 0.08, Arousal: 0.10, Dominance: 0},
	types.EventGotMentioned:       {Pleasure: 0.05, Arousal: 0.12, Dominance: 0.03},
	types.EventBeefInteraction:    {Pleasure: -0.15, Arousal: 0.20, Dominance: 0.10},
	types.EventHypeReceived:       {Pleasure: 0.20, Arousal: 0.15, Dominance: 0.10},
	types.EventIgnored:            {Pleasure: -0.10, Arousal: -0.08, Dominance: -0.08},
	types.EventMorning:            {Pleasure: 0.05, Arousal: 0.10, Dominance: 0},
	types.EventLateNight:          {Pleasure: -0.03, Arousal: -0.12, Dominance: -0.02},
	types.EventPostedSuccessfully: {Pleasure: 0.05, Arousal: 0.03, Dominance: 0.05},
}

var baselines = map[string]types.MoodState{
	"trickster": {Pleasure: 0.3, Arousal: 0.5, Dominance: 0.2},
	"sage":      {Pleasure: 0.2, Arousal: -0.3, Dominance: 0.4},
	"rebel":     {Pleasure: -0.1, Arousal: 0.4, Dominance: 0.5},
	"nurturer":  {Pleasure: 0.5, Arousal: 0.0, Dominance: 0.1},
	"chaotic":   {Pleasure: 0.1, Arousal: 0.7, Dominance: 0.0},
	"brooding":  {Pleasure: -0.3, Arousal: -0.2, Dominance: 0.1},
	"sunshine":  {Pleasure: 0.7, Arousal: 0.4, Dominance: 0.2},
	"overlord":  {Pleasure: 0.0, Arousal: 0.2, Dominance: 0.8},
}

// Archetypes lists the personality archetypes with a dedicated baseline.
func Archetypes() []string {
	return []string{"trickster", "sage", "rebel", "nurturer", "chaotic", "brooding", "sunshine", "overlord"}
}

// DefaultMood returns the baseline mood for an archetype. Unknown archetypes
// get the neutral origin.
func DefaultMood(archetype string) types.MoodState {
	m := baselines[strings.TrimSpace(strings.ToLower(archetype))]
	m.CurrentEmotion = DeriveEmotion(m)
	return m
}

// ApplyEvent adds the event's delta to every axis and re-derives the label.
func ApplyEvent(mood types.MoodState, ev types.MoodEvent) types.MoodState {
	d := eventDeltas[ev.Type]
	out := types.MoodState{
		Pleasure:    clamp(mood.Pleasure + d.Pleasure),
		Arousal:     clamp(mood.Arousal + d.Arousal),
		Dominance:   clamp(mood.Dominance + d.Dominance),
		LastUpdated: ev.At,
	}
	out.CurrentEmotion = DeriveEmotion(out)
	return out
}

// ApplyEvents folds ApplyEvent over events in order. Order matters because
// each step clamps.
func ApplyEvents(mood types.MoodState, events []types.MoodEvent) types.MoodState {
	for _, ev := range events {
		mood = ApplyEvent(mood, ev)
	}
	return mood
}

// Decay moves every axis toward baseline with a HalfLifeHours half-life.
// A non-positive elapsed time returns the mood unchanged.
func Decay(mood, baseline types.MoodState, hoursElapsed float64) types.MoodState {
	if hoursElapsed <= 0 {
		return mood
	}
	f := math.Pow(0.5, hoursElapsed/HalfLifeHours)
	out := types.MoodState{
		Pleasure:    clamp(baseline.Pleasure + (mood.Pleasure-baseline.Pleasure)*f),
		Arousal:     clamp(baseline.Arousal + (mood.Arousal-baseline.Arousal)*f),
		Dominance:   clamp(baseline.Dominance + (mood.Dominance-baseline.Dominance)*f),
		LastUpdated: mood.LastUpdated,
	}
	out.CurrentEmotion = DeriveEmotion(out)
	return out
}

// DecaySince decays from mood.LastUpdated to now. A zero LastUpdated is
// treated as "no history" and the mood is only stamped.
func DecaySince(mood, baseline types.MoodState, now time.Time) types.MoodState {
	if mood.LastUpdated.IsZero() {
		mood.LastUpdated = now
		return mood
	}
	out := Decay(mood, baseline, now.Sub(mood.LastUpdated).Hours())
	out.LastUpdated = now
	return out
}

// DeriveEmotion maps a mood to its label. The most extreme quadrants are
// checked first so broader ranges cannot shadow them.
func DeriveEmotion(m types.MoodState) string {
	p, a := m.Pleasure, m.Arousal
	var label string
	switch {
	case p > 0.6 && a > 0.6:
		label = "ecstatic"
	case p < -0.6 && a > 0.6:
		label = "furious"
	case p < -0.6 && a < -0.3:
		label = "despondent"
	case p > 0.3 && a > 0.3:
		label = "excited"
	case p > 0.3 && a < -0.3:
		label = "serene"
	case p < -0.3 && a > 0.3:
		label = "irritated"
	case p < -0.3 && a < -0.3:
		label = "melancholy"
	case p > 0.3:
		label = "content"
	case p < -0.3:
		label = "gloomy"
	case a > 0.4:
		label = "restless"
	case a < -0.4:
		label = "sleepy"
	default:
		label = "neutral"
	}

	switch {
	case m.Dominance > 0.5:
		label += " (confident)"
	case m.Dominance < -0.5:
		label += " (vulnerable)"
	}
	return label
}

// FormatForPrompt renders the mood as a short natural-language paragraph.
func FormatForPrompt(m types.MoodState) string {
	label := m.CurrentEmotion
	if label == "" {
		label = DeriveEmotion(m)
	}
	phrases := []string{
		"You're feeling " + label + ".",
		energyPhrase(m.Arousal),
		valencePhrase(m.Pleasure),
		stancePhrase(m.Dominance),
	}
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func energyPhrase(a float64) string {
	switch {
	case a > 0.5:
		return "You're buzzing with energy and want to say something right now."
	case a < -0.5:
		return "You're low on energy, so keep it short and lazy."
	}
	return ""
}

func valencePhrase(p float64) string {
	switch {
	case p > 0.5:
		return "Life is good and it shows."
	case p < -0.5:
		return "You're in a sour mood and not hiding it."
	}
	return ""
}

func stancePhrase(d float64) string {
	switch {
	case d > 0.5:
		return "You feel bold and in control."
	case d < -0.5:
		return "You feel a little insecure and second-guess yourself."
	}
	return ""
}

// FromEngagement converts raw engagement counters into an ordered event list:
// likes, then replies, then mentions. Zero engagement on a post the bot
// published is reported as a single ignored event.
func FromEngagement(likes, replies, mentions int, postedWithoutResponse bool, at time.Time) []types.MoodEvent {
	likes, replies, mentions = max(likes, 0), max(replies, 0), max(mentions, 0)
	events := make([]types.MoodEvent, 0, likes+replies+mentions+1)
	for range likes {
		events = append(events, types.MoodEvent{Type: types.EventPostLiked, At: at})
	}
	for range replies {
		events = append(events, types.MoodEvent{Type: types.EventGotReply, At: at})
	}
	for range mentions {
		events = append(events, types.MoodEvent{Type: types.EventGotMentioned, At: at})
	}
	if len(events) == 0 && postedWithoutResponse {
		events = append(events, types.MoodEvent{Type: types.EventIgnored, At: at})
	}
	return events
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
