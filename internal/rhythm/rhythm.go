// Package rhythm decides whether a bot posts on a given tick.
//
// Decide is referentially transparent: everything it depends on arrives in
// Input, and randomness comes from the caller-supplied Rand. The returned
// state must be persisted whether or not the bot posts, since day resets and
// mood rolls happen on non-posting ticks too.
package rhythm

import (
	"fmt"
	"math"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

const dateLayout = "2006-01-02"

const (
	BurstWindow     = 2 * time.Hour
	BurstMinGap     = 10 * time.Minute
	BurstMinPosts   = 2
	BurstMaxPosts   = 4
	hyperBurstOdds  = 0.50
	chattyBurstOdds = 0.25
)

// Rand is the randomness the engine consumes. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Tier is the posting cadence for a frequency setting.
type Tier struct {
	Interval time.Duration
	DailyCap int
}

var tiers = map[types.Frequency]Tier{
	types.FrequencyHigh:   {Interval: 2 * time.Hour, DailyCap: 12},
	types.FrequencyMedium: {Interval: 4 * time.Hour, DailyCap: 6},
	types.FrequencyLow:    {Interval: 8 * time.Hour, DailyCap: 3},
}

// TierFor returns the cadence for f; unknown values get the medium tier.
func TierFor(f types.Frequency) Tier {
	if t, ok := tiers[f]; ok {
		return t
	}
	return tiers[types.FrequencyMedium]
}

// DailyMood is one outcome of the once-per-day roll.
type DailyMood struct {
	Label      string
	Multiplier float64
	Odds       float64
}

// DailyMoods is the roll distribution, in cumulative order.
var DailyMoods = []DailyMood{
	{Label: "silent", Multiplier: 0, Odds: 0.05},
	{Label: "quiet", Multiplier: 0.5, Odds: 0.20},
	{Label: "normal", Multiplier: 1.0, Odds: 0.45},
	{Label: "chatty", Multiplier: 1.5, Odds: 0.20},
	{Label: "hyperactive", Multiplier: 2.0, Odds: 0.10},
}

// RollDailyMood maps a uniform draw in [0, 1) onto DailyMoods.
func RollDailyMood(u float64) DailyMood {
	acc := 0.0
	for _, m := range DailyMoods {
		acc += m.Odds
		if u < acc {
			return m
		}
	}
	return DailyMoods[len(DailyMoods)-1]
}

// TraitFactor scales the posting rate by extraversion: 0.75 for a pure
// introvert up to 1.25 for a pure extravert.
func TraitFactor(t types.Traits) float64 {
	return 0.75 + 0.5*min(max(t.Extraversion, 0), 1)
}

// LocalTime shifts now by a possibly fractional UTC offset.
func LocalTime(now time.Time, utcOffsetHours float64) time.Time {
	return now.UTC().Add(time.Duration(utcOffsetHours * float64(time.Hour)))
}

// Input is everything a decision depends on.
type Input struct {
	Now            time.Time
	State          types.ScheduleState
	Frequency      types.Frequency
	Chronotype     types.Chronotype
	Traits         types.Traits
	UTCOffsetHours float64
}

// Decision is the outcome of one tick for one bot.
type Decision struct {
	ShouldPost     bool                `json:"should_post"`
	Reason         string              `json:"reason"`
	UpdatedState   types.ScheduleState `json:"updated_state"`
	LocalHour      int                 `json:"local_hour"`
	ActivityWeight float64             `json:"activity_weight"`
	DailyMoodLabel string              `json:"daily_mood_label"`
}

// Decide runs the checks in order: day reset, mood roll, daily cap, silent
// day, asleep, burst, interval, activity roll.
func Decide(in Input, rng Rand) Decision {
	local := LocalTime(in.Now, in.UTCOffsetHours)
	today := local.Format(dateLayout)
	weight := ActivityWeight(in.Chronotype, local.Hour())

	st := in.State
	if st.Burst != nil {
		b := *st.Burst
		st.Burst = &b
	}

	if st.PostsTodayDate != today {
		st.PostsToday = 0
		st.PostsTodayDate = today
	}
	if st.DailyMoodDate != today {
		mood := RollDailyMood(rng.Float64())
		st.DailyMood = mood.Multiplier
		st.DailyMoodLabel = mood.Label
		st.DailyMoodDate = today
		st.Burst = seedBurst(mood.Label, in.Traits, rng)
	}

	dec := Decision{
		LocalHour:      local.Hour(),
		ActivityWeight: weight,
		DailyMoodLabel: st.DailyMoodLabel,
	}
	finish := func(post bool, reason string) Decision {
		if post {
			st.PostsToday++
			st.LastPostAt = in.Now
		}
		dec.ShouldPost = post
		dec.Reason = reason
		dec.UpdatedState = st
		return dec
	}

	tier := TierFor(in.Frequency)
	if st.PostsToday >= tier.DailyCap {
		return finish(false, fmt.Sprintf("daily cap reached (%d/%d)", st.PostsToday, tier.DailyCap))
	}
	if st.DailyMood <= 0 {
		return finish(false, "silent day, not posting")
	}
	if weight <= 0 {
		return finish(false, fmt.Sprintf("asleep at local hour %d", local.Hour()))
	}

	if b := st.Burst; b != nil && !b.ExpiresAt.IsZero() {
		switch {
		case b.Remaining <= 0 || !in.Now.Before(b.ExpiresAt):
			st.Burst = nil
		case !st.LastPostAt.IsZero() && in.Now.Sub(st.LastPostAt) < BurstMinGap:
			return finish(false, "in a burst, waiting between posts")
		default:
			b.Remaining--
			left := b.Remaining
			if left == 0 {
				st.Burst = nil
			}
			return finish(true, fmt.Sprintf("burst post (%d left)", left))
		}
	}

	interval := EffectiveInterval(tier, st.DailyMood, in.Traits)
	if !st.LastPostAt.IsZero() {
		if since := in.Now.Sub(st.LastPostAt); since < interval {
			wait := (interval - since).Round(time.Minute)
			return finish(false, fmt.Sprintf("posted recently, next window in %s", wait))
		}
	}

	if rng.Float64() < weight {
		reason := fmt.Sprintf("due and active (%s day, weight %.2f)", st.DailyMoodLabel, weight)
		if b := st.Burst; b != nil && b.ExpiresAt.IsZero() {
			b.ExpiresAt = in.Now.Add(BurstWindow)
			reason += fmt.Sprintf(", burst of %d follows", b.Remaining)
		}
		return finish(true, reason)
	}
	return finish(false, fmt.Sprintf("due but not feeling it (weight %.2f)", weight))
}

// EffectiveInterval is the tier interval divided by the mood multiplier and
// trait factor. A zero multiplier yields an unbounded interval.
func EffectiveInterval(tier Tier, moodMultiplier float64, traits types.Traits) time.Duration {
	scale := moodMultiplier * TraitFactor(traits)
	if scale <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(float64(tier.Interval) / scale)
}

// burstOdds is the chance an excited day carries a burst. Impulsivity scales
// the base odds from half (0) to one and a half times (1).
func burstOdds(label string, t types.Traits) float64 {
	var base float64
	switch label {
	case "hyperactive":
		base = hyperBurstOdds
	case "chatty":
		base = chattyBurstOdds
	default:
		return 0
	}
	return min(base*(0.5+min(max(t.Impulsivity, 0), 1)), 1)
}

// seedBurst arms a burst on the mood roll. Its window stays closed until the
// day's next regular post.
func seedBurst(label string, traits types.Traits, rng Rand) *types.Burst {
	odds := burstOdds(label, traits)
	if odds <= 0 || rng.Float64() >= odds {
		return nil
	}
	return &types.Burst{Remaining: BurstMinPosts + rng.IntN(BurstMaxPosts-BurstMinPosts+1)}
}
