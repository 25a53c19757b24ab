package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiy/petpulse/internal/emotion"
	"github.com/xiy/petpulse/internal/memory"
	"github.com/xiy/petpulse/internal/reflection"
	"github.com/xiy/petpulse/internal/relationship"
	"github.com/xiy/petpulse/internal/rhythm"
	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/pkg/types"
)

// BotContext is the prompt material for one bot at a moment in time.
type BotContext struct {
	Bot               types.Bot       `json:"bot"`
	Mood              types.MoodState `json:"mood"`
	MoodPrompt        string          `json:"mood_prompt"`
	MemoryContext     string          `json:"memory_context"`
	ReflectionContext string          `json:"reflection_context,omitempty"`
	CooldownTopics    []string        `json:"cooldown_topics"`
	ReflectionDue     bool            `json:"reflection_due"`
}

// Context assembles a bot's prompt context. The mood is decayed to now but
// nothing is persisted.
func (o *Orchestrator) Context(ctx context.Context, botID string) (BotContext, error) {
	bot, err := o.store.GetBot(ctx, botID)
	if err != nil {
		return BotContext{}, fmt.Errorf("load bot %q: %w", botID, err)
	}
	st, err := o.loadState(ctx, bot)
	if err != nil {
		return BotContext{}, err
	}
	now := o.now()
	mood := emotion.DecaySince(st.Mood, emotion.DefaultMood(bot.Archetype), now)
	cooldowns := memory.TopicsOnCooldown(st.Memory, o.opts.TopicCooldownHours, now)
	if cooldowns == nil {
		cooldowns = []string{}
	}
	return BotContext{
		Bot:               bot,
		Mood:              mood,
		MoodPrompt:        emotion.FormatForPrompt(mood),
		MemoryContext:     memory.BuildContext(st.Memory, o.opts.TopicCooldownHours, now),
		ReflectionContext: reflection.FormatForPrompt(st.Memory.Reflections, now),
		CooldownTopics:    cooldowns,
		ReflectionDue:     reflection.ShouldReflect(st.Memory, now),
	}, nil
}

// RelationshipContext describes selfID's relationship with otherID for a
// prompt, including the most recent messages between them.
func (o *Orchestrator) RelationshipContext(ctx context.Context, selfID, otherID string) (string, error) {
	key, err := relationship.Key(selfID, otherID)
	if err != nil {
		return "", err
	}
	other, err := o.store.GetBot(ctx, otherID)
	if err != nil {
		return "", fmt.Errorf("load bot %q: %w", otherID, err)
	}

	var rel *types.RelationshipData
	cur, err := o.store.GetRelationship(ctx, key.A, key.B)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return "", err
	default:
		rel = &cur
	}

	msgs, err := o.store.RecentInteractionMessages(ctx, key.A, key.B, relationship.MaxRecentMessages)
	if err != nil {
		return "", err
	}
	recent := make([]string, 0, len(msgs))
	for _, m := range msgs {
		recent = append(recent, fmt.Sprintf("%s (%s): %s", m.Actor, m.Type, m.Message))
	}
	return relationship.FormatForPrompt(rel, selfID, other.Name, recent, o.now()), nil
}

// Decide reports what the rhythm engine would decide for a bot right now
// without persisting anything.
func (o *Orchestrator) Decide(ctx context.Context, botID string) (rhythm.Decision, error) {
	bot, err := o.store.GetBot(ctx, botID)
	if err != nil {
		return rhythm.Decision{}, fmt.Errorf("load bot %q: %w", botID, err)
	}
	st, err := o.loadState(ctx, bot)
	if err != nil {
		return rhythm.Decision{}, err
	}
	now := o.now()
	return rhythm.Decide(rhythm.Input{
		Now:            now,
		State:          st.Schedule,
		Frequency:      bot.Frequency,
		Chronotype:     bot.Chronotype,
		Traits:         bot.Traits,
		UTCOffsetHours: bot.UTCOffsetHours,
	}, o.randFor(bot.ID, now)), nil
}

// CleanupCooldowns drops expired topic cooldowns and ages running themes for
// every bot, returning how many bots changed.
func (o *Orchestrator) CleanupCooldowns(ctx context.Context) (int64, error) {
	bots, err := o.store.ListBots(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list bots: %w", err)
	}
	var changed int64
	for _, bot := range bots {
		ok, err := o.cleanupBot(ctx, bot, o.now())
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (o *Orchestrator) cleanupBot(ctx context.Context, bot types.Bot, now time.Time) (bool, error) {
	release, err := o.locker.Lock(ctx, botLockKey(bot.ID))
	if err != nil {
		return false, err
	}
	defer release()

	st, err := o.store.LoadState(ctx, bot.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}
	before := memory.Normalize(st.Memory)
	after := memory.AdvanceThemes(memory.CleanupCooldowns(before, now), now)
	if !memoryChanged(before, after) {
		return false, nil
	}
	st.Memory = after
	if err := o.store.SaveState(ctx, bot.ID, st); err != nil {
		return false, err
	}
	return true, nil
}

func memoryChanged(before, after types.BotMemory) bool {
	if len(before.TopicCooldowns) != len(after.TopicCooldowns) || len(before.RunningThemes) != len(after.RunningThemes) {
		return true
	}
	for i := range before.RunningThemes {
		if before.RunningThemes[i].Status != after.RunningThemes[i].Status {
			return true
		}
	}
	return false
}
