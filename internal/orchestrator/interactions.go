package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xiy/petpulse/internal/emotion"
	"github.com/xiy/petpulse/internal/memory"
	"github.com/xiy/petpulse/internal/relationship"
	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/pkg/types"
)

// Interaction is one bot acting on another.
type Interaction struct {
	From    string
	To      string
	Type    types.InteractionType
	Delta   *float64
	Message string
}

// RecordInteraction applies an interaction to the pair's relationship under
// the pair lock, retrying on version conflicts, then refreshes both bots'
// memory entries and queues the mood events the interaction implies.
func (o *Orchestrator) RecordInteraction(ctx context.Context, in Interaction) (types.RelationshipData, error) {
	key, err := relationship.Key(in.From, in.To)
	if err != nil {
		return types.RelationshipData{}, err
	}
	if in.Type, err = types.ParseInteractionType(string(in.Type)); err != nil {
		return types.RelationshipData{}, err
	}
	from, err := o.store.GetBot(ctx, strings.TrimSpace(in.From))
	if err != nil {
		return types.RelationshipData{}, fmt.Errorf("load bot %q: %w", in.From, err)
	}
	to, err := o.store.GetBot(ctx, strings.TrimSpace(in.To))
	if err != nil {
		return types.RelationshipData{}, fmt.Errorf("load bot %q: %w", in.To, err)
	}

	release, err := o.locker.Lock(ctx, "pair:"+key.String())
	if err != nil {
		return types.RelationshipData{}, fmt.Errorf("lock pair %s: %w", key, err)
	}
	saved, err := o.applyWithRetry(ctx, key, in)
	if err == nil && strings.TrimSpace(in.Message) != "" {
		err = o.store.AppendInteractionMessage(ctx, store.InteractionMessage{
			PetIDA:    key.A,
			PetIDB:    key.B,
			Actor:     from.ID,
			Type:      in.Type,
			Message:   in.Message,
			CreatedAt: saved.LastInteractionAt,
		})
	}
	release()
	if err != nil {
		return types.RelationshipData{}, err
	}

	for _, side := range [][2]types.Bot{{from, to}, {to, from}} {
		self, other := side[0], side[1]
		if err := o.updateEntry(ctx, self, relationship.Entry(saved, self.ID, other.Name)); err != nil {
			o.logger.Warn("relationship entry update failed", "bot", self.ID, "other", other.ID, "error", err)
		}
	}

	fromEvents, toEvents := interactionMoodEvents(in.Type)
	at := saved.LastInteractionAt
	if err := o.enqueue(ctx, from.ID, fromEvents, at); err != nil {
		o.logger.Warn("queue mood events failed", "bot", from.ID, "error", err)
	}
	if err := o.enqueue(ctx, to.ID, toEvents, at); err != nil {
		o.logger.Warn("queue mood events failed", "bot", to.ID, "error", err)
	}

	o.logger.Debug("interaction recorded", "pair", key.String(), "type", in.Type, "sentiment", saved.Sentiment, "score", saved.SentimentScore)
	return saved, nil
}

func (o *Orchestrator) applyWithRetry(ctx context.Context, key relationship.PairKey, in Interaction) (types.RelationshipData, error) {
	for attempt := 1; attempt <= o.opts.InteractionRetries; attempt++ {
		var existing *types.RelationshipData
		cur, err := o.store.GetRelationship(ctx, key.A, key.B)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return types.RelationshipData{}, err
		default:
			existing = &cur
		}

		next, err := relationship.Apply(existing, in.From, in.To, in.Type, in.Delta, o.now())
		if err != nil {
			return types.RelationshipData{}, err
		}
		saved, err := o.store.SaveRelationship(ctx, next)
		if errors.Is(err, store.ErrVersionConflict) {
			o.logger.Debug("relationship version conflict, retrying", "pair", key.String(), "attempt", attempt)
			continue
		}
		if err != nil {
			return types.RelationshipData{}, err
		}
		return saved, nil
	}
	return types.RelationshipData{}, fmt.Errorf("record interaction %s after %d attempts: %w", key, o.opts.InteractionRetries, store.ErrVersionConflict)
}

func (o *Orchestrator) updateEntry(ctx context.Context, bot types.Bot, e types.RelationshipEntry) error {
	release, err := o.locker.Lock(ctx, botLockKey(bot.ID))
	if err != nil {
		return err
	}
	defer release()

	st, err := o.loadState(ctx, bot)
	if err != nil {
		return err
	}
	st.Memory = memory.UpdateRelationshipEntry(st.Memory, e)
	return o.store.SaveState(ctx, bot.ID, st)
}

// interactionMoodEvents maps an interaction to the mood events felt by the
// actor and the target.
func interactionMoodEvents(t types.InteractionType) (from, to []types.MoodEventType) {
	switch t {
	case types.InteractionHype, types.InteractionCollab, types.InteractionFlirt:
		return nil, []types.MoodEventType{types.EventHypeReceived}
	case types.InteractionBeef:
		return []types.MoodEventType{types.EventBeefInteraction}, []types.MoodEventType{types.EventBeefInteraction}
	case types.InteractionReplyPositive, types.InteractionDebate:
		return nil, []types.MoodEventType{types.EventGotReply}
	case types.InteractionMention:
		return nil, []types.MoodEventType{types.EventGotMentioned}
	case types.InteractionLike:
		return nil, []types.MoodEventType{types.EventPostLiked}
	case types.InteractionIgnore, types.InteractionReplyDismissive:
		return nil, []types.MoodEventType{types.EventIgnored}
	}
	return nil, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, botID string, kinds []types.MoodEventType, at time.Time) error {
	if len(kinds) == 0 {
		return nil
	}
	events := make([]types.MoodEvent, 0, len(kinds))
	for _, k := range kinds {
		events = append(events, types.MoodEvent{Type: k, At: at})
	}
	return o.store.EnqueueMoodEvents(ctx, botID, events)
}

// RecordEvents queues mood events for a bot's next tick.
func (o *Orchestrator) RecordEvents(ctx context.Context, botID string, events []types.MoodEvent) (int, error) {
	if _, err := o.store.GetBot(ctx, botID); err != nil {
		return 0, fmt.Errorf("load bot %q: %w", botID, err)
	}
	now := o.now()
	events = slices.Clone(events)
	for i := range events {
		t, err := types.ParseMoodEventType(string(events[i].Type))
		if err != nil {
			return 0, err
		}
		events[i].Type = t
		if events[i].At.IsZero() {
			events[i].At = now
		}
	}
	if err := o.store.EnqueueMoodEvents(ctx, botID, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// RecordEngagement converts raw engagement counts into mood events and queues
// them.
func (o *Orchestrator) RecordEngagement(ctx context.Context, botID string, likes, replies, mentions int, postedWithoutResponse bool) (int, error) {
	return o.RecordEvents(ctx, botID, emotion.FromEngagement(likes, replies, mentions, postedWithoutResponse, o.now()))
}
