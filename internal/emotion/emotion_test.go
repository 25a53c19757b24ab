package emotion

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/petpulse/pkg/types"
)

var allEvents = []types.MoodEventType{
	types.EventPostLiked, types.EventGotReply, types.EventGotMentioned,
	types.EventBeefInteraction, types.EventHypeReceived, types.EventIgnored,
	types.EventMorning, types.EventLateNight, types.EventPostedSuccessfully,
}

func inRange(t *testing.T, m types.MoodState) {
	t.Helper()
	for name, v := range map[string]float64{"pleasure": m.Pleasure, "arousal": m.Arousal, "dominance": m.Dominance} {
		require.GreaterOrEqual(t, v, -1.0, name)
		require.LessOrEqual(t, v, 1.0, name)
	}
}

func TestApplyEvent_AddsDeltaAndStamps(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	got := ApplyEvent(types.MoodState{}, types.MoodEvent{Type: types.EventHypeReceived, At: at})

	assert.InDelta(t, 0.20, got.Pleasure, 1e-9)
	assert.InDelta(t, 0.15, got.Arousal, 1e-9)
	assert.InDelta(t, 0.10, got.Dominance, 1e-9)
	assert.Equal(t, at, got.LastUpdated)
	assert.Equal(t, DeriveEmotion(got), got.CurrentEmotion)
}

func TestApplyEvents_StaysInRange(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(7, 11))
	mood := DefaultMood("sunshine")
	baseline := mood
	for i := 0; i < 2000; i++ {
		if r.IntN(5) == 0 {
			mood = Decay(mood, baseline, r.Float64()*12)
		} else {
			mood = ApplyEvent(mood, types.MoodEvent{Type: allEvents[r.IntN(len(allEvents))]})
		}
		inRange(t, mood)
	}
}

func TestApplyEvents_OrderMattersAtTheBoundary(t *testing.T) {
	t.Parallel()
	start := types.MoodState{Pleasure: 0.95}
	a := ApplyEvents(start, []types.MoodEvent{{Type: types.EventHypeReceived}, {Type: types.EventBeefInteraction}})
	b := ApplyEvents(start, []types.MoodEvent{{Type: types.EventBeefInteraction}, {Type: types.EventHypeReceived}})

	assert.InDelta(t, 0.85, a.Pleasure, 1e-9)
	assert.InDelta(t, 1.0, b.Pleasure, 1e-9)
}

func TestDecay_ZeroIsIdentity(t *testing.T) {
	t.Parallel()
	m := types.MoodState{Pleasure: 0.8, Arousal: -0.4, Dominance: 0.1, CurrentEmotion: "whatever"}
	assert.Equal(t, m, Decay(m, DefaultMood("sage"), 0))
	assert.Equal(t, m, Decay(m, DefaultMood("sage"), -3))
}

func TestDecay_HalfLifeAndConvergence(t *testing.T) {
	t.Parallel()
	baseline := types.MoodState{Pleasure: 0.2}
	m := types.MoodState{Pleasure: 1.0, Arousal: 0.6}

	half := Decay(m, baseline, HalfLifeHours)
	assert.InDelta(t, 0.6, half.Pleasure, 1e-9)
	assert.InDelta(t, 0.3, half.Arousal, 1e-9)

	far := Decay(m, baseline, 10_000)
	assert.InDelta(t, 0.2, far.Pleasure, 1e-9)
	assert.InDelta(t, 0.0, far.Arousal, 1e-9)
}

func TestDecaySince_FirstContactOnlyStamps(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := types.MoodState{Pleasure: 0.9}
	got := DecaySince(m, types.MoodState{}, now)
	assert.InDelta(t, 0.9, got.Pleasure, 1e-9)
	assert.Equal(t, now, got.LastUpdated)

	later := DecaySince(got, types.MoodState{}, now.Add(6*time.Hour))
	assert.InDelta(t, 0.45, later.Pleasure, 1e-9)
}

func TestDeriveEmotion(t *testing.T) {
	t.Parallel()
	cases := []struct {
		p, a, d float64
		want    string
	}{
		{0.9, 0.9, 0, "ecstatic"},
		{-0.9, 0.9, 0, "furious"},
		{-0.9, -0.9, 0, "despondent"},
		{0.5, 0.5, 0, "excited"},
		{0.5, -0.5, 0, "serene"},
		{-0.5, 0.5, 0, "irritated"},
		{-0.5, -0.5, 0, "melancholy"},
		{0.5, 0, 0, "content"},
		{-0.5, 0, 0, "gloomy"},
		{0, 0.6, 0, "restless"},
		{0, -0.6, 0, "sleepy"},
		{0, 0, 0, "neutral"},
		{0, 0, 0.8, "neutral (confident)"},
		{0.9, 0.9, -0.8, "ecstatic (vulnerable)"},
	}
	for _, tc := range cases {
		m := types.MoodState{Pleasure: tc.p, Arousal: tc.a, Dominance: tc.d}
		assert.Equal(t, tc.want, DeriveEmotion(m), "p=%v a=%v d=%v", tc.p, tc.a, tc.d)
		assert.Equal(t, DeriveEmotion(m), DeriveEmotion(m))
	}
}

func TestDefaultMood(t *testing.T) {
	t.Parallel()
	for _, a := range Archetypes() {
		m := DefaultMood(a)
		inRange(t, m)
		assert.NotEmpty(t, m.CurrentEmotion)
	}
	assert.Equal(t, 0.8, DefaultMood("Overlord").Dominance)

	unknown := DefaultMood("accountant")
	assert.Zero(t, unknown.Pleasure)
	assert.Zero(t, unknown.Arousal)
	assert.Zero(t, unknown.Dominance)
	assert.Equal(t, "neutral", unknown.CurrentEmotion)
}

func TestFormatForPrompt_OmitsEmptyPhrases(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "You're feeling neutral.", FormatForPrompt(types.MoodState{}))

	hot := types.MoodState{Pleasure: -0.7, Arousal: 0.7, Dominance: 0.7}
	got := FormatForPrompt(hot)
	assert.Contains(t, got, "You're feeling furious (confident).")
	assert.Contains(t, got, "buzzing with energy")
	assert.Contains(t, got, "sour mood")
	assert.Contains(t, got, "bold and in control")
}

func TestFromEngagement(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := FromEngagement(2, 1, 0, true, at)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventPostLiked, events[0].Type)
	assert.Equal(t, types.EventGotReply, events[2].Type)

	ignored := FromEngagement(0, 0, 0, true, at)
	require.Len(t, ignored, 1)
	assert.Equal(t, types.EventIgnored, ignored[0].Type)

	assert.Empty(t, FromEngagement(-1, 0, 0, false, at))
}
