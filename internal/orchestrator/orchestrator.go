// Package orchestrator runs the per-bot tick pipeline and records social
// interactions on top of the pure engine packages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xiy/petpulse/internal/emotion"
	"github.com/xiy/petpulse/internal/generate"
	"github.com/xiy/petpulse/internal/memory"
	"github.com/xiy/petpulse/internal/pairlock"
	"github.com/xiy/petpulse/internal/reflection"
	"github.com/xiy/petpulse/internal/rhythm"
	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/pkg/types"
)

// Local hours during which the morning boost may fire.
const (
	morningStartHour = 6
	morningEndHour   = 11
	lateNightEndHour = 4
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     store.Store
	Generator generate.Generator
	Publisher generate.Publisher
	Locker    pairlock.Locker
	// Clock defaults to time.Now.
	Clock func() time.Time
	// RandFor defaults to rhythm.NewRand.
	RandFor func(botID string, now time.Time) rhythm.Rand
}

// Options tune concurrency, rate limits and retry behavior.
type Options struct {
	MaxConcurrentBots   int
	GenerationPerMinute float64
	GenerationBurst     int
	TopicCooldownHours  float64
	InteractionRetries  int
}

// Orchestrator coordinates storage, the engine packages and generation.
type Orchestrator struct {
	store   store.Store
	gen     generate.Generator
	pub     generate.Publisher
	locker  pairlock.Locker
	limiter *rate.Limiter
	opts    Options
	clock   func() time.Time
	randFor func(string, time.Time) rhythm.Rand
	logger  *log.Logger
}

// BotResult is one bot's outcome within a tick.
type BotResult struct {
	BotID     string `json:"bot_id"`
	Posted    bool   `json:"posted"`
	Reason    string `json:"reason"`
	PostID    string `json:"post_id,omitempty"`
	LocalHour int    `json:"local_hour"`
	DailyMood string `json:"daily_mood"`
	Emotion   string `json:"emotion"`
	Reflected bool   `json:"reflected"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// TickReport summarizes a whole tick run.
type TickReport struct {
	RunID   string      `json:"run_id"`
	At      time.Time   `json:"at"`
	DryRun  bool        `json:"dry_run"`
	Results []BotResult `json:"results"`
	Posted  int         `json:"posted"`
	Failed  int         `json:"failed"`
}

// New constructs an Orchestrator.
func New(deps Deps, opts Options, logger *log.Logger) (*Orchestrator, error) {
	if deps.Store == nil || deps.Generator == nil || deps.Publisher == nil || deps.Locker == nil {
		return nil, errors.New("orchestrator requires store, generator, publisher and locker")
	}
	if opts.MaxConcurrentBots <= 0 {
		opts.MaxConcurrentBots = 1
	}
	if opts.GenerationPerMinute <= 0 {
		opts.GenerationPerMinute = 30
	}
	if opts.GenerationBurst <= 0 {
		opts.GenerationBurst = 1
	}
	if opts.TopicCooldownHours <= 0 {
		opts.TopicCooldownHours = memory.DefaultTopicCooldownHours
	}
	if opts.InteractionRetries <= 0 {
		opts.InteractionRetries = 5
	}
	o := &Orchestrator{
		store:   deps.Store,
		gen:     deps.Generator,
		pub:     deps.Publisher,
		locker:  deps.Locker,
		limiter: rate.NewLimiter(rate.Limit(opts.GenerationPerMinute/60), opts.GenerationBurst),
		opts:    opts,
		clock:   deps.Clock,
		randFor: deps.RandFor,
		logger:  logger,
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.randFor == nil {
		o.randFor = func(id string, now time.Time) rhythm.Rand { return rhythm.NewRand(id, now) }
	}
	return o, nil
}

func (o *Orchestrator) now() time.Time {
	return o.clock().UTC()
}

// Tick runs the pipeline for every active bot. Per-bot failures are
// recorded in the report; only failing to list bots aborts the run.
func (o *Orchestrator) Tick(ctx context.Context, dryRun bool) (TickReport, error) {
	now := o.now()
	report := TickReport{RunID: uuid.NewString(), At: now, DryRun: dryRun}

	bots, err := o.store.ListBots(ctx, true)
	if err != nil {
		return report, fmt.Errorf("list bots: %w", err)
	}

	results := make([]BotResult, len(bots))
	var g errgroup.Group
	g.SetLimit(o.opts.MaxConcurrentBots)
	for i, bot := range bots {
		g.Go(func() error {
			res := o.runBot(ctx, report.RunID, bot, now, dryRun)
			if res.Err != nil {
				res.Error = res.Err.Error()
				o.logger.Warn("bot tick failed", "run", report.RunID, "bot", bot.ID, "error", res.Err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	for _, r := range results {
		if r.Posted {
			report.Posted++
		}
		if r.Err != nil {
			report.Failed++
		}
	}
	o.logger.Info("tick complete", "run", report.RunID, "bots", len(bots), "posted", report.Posted, "failed", report.Failed, "dry_run", dryRun)
	return report, nil
}

func (o *Orchestrator) runBot(ctx context.Context, runID string, bot types.Bot, now time.Time, dryRun bool) (res BotResult) {
	res.BotID = bot.ID

	release, err := o.locker.Lock(ctx, botLockKey(bot.ID))
	if err != nil {
		res.Err = fmt.Errorf("lock bot: %w", err)
		return res
	}
	defer release()

	if !dryRun {
		defer func() {
			rec := store.TickLog{
				RunID:     runID,
				BotID:     bot.ID,
				Posted:    res.Posted,
				Reason:    res.Reason,
				LocalHour: res.LocalHour,
				DailyMood: res.DailyMood,
				Emotion:   res.Emotion,
				PostID:    res.PostID,
				Reflected: res.Reflected,
				CreatedAt: now,
			}
			if res.Err != nil {
				rec.ErrorText = res.Err.Error()
			}
			if err := o.store.InsertTickLog(ctx, rec); err != nil {
				o.logger.Warn("tick log insert failed", "bot", bot.ID, "error", err)
			}
		}()
	}

	st, err := o.loadState(ctx, bot)
	if err != nil {
		res.Err = err
		return res
	}

	mood := emotion.DecaySince(st.Mood, emotion.DefaultMood(bot.Archetype), now)

	var (
		events        []types.MoodEvent
		eventsThrough int64
	)
	if !dryRun {
		events, eventsThrough, err = o.store.PendingMoodEvents(ctx, bot.ID)
		if err != nil {
			res.Err = fmt.Errorf("read mood events: %w", err)
			return res
		}
	}
	sched := st.Schedule
	local := rhythm.LocalTime(now, bot.UTCOffsetHours)
	today := local.Format("2006-01-02")
	if h := local.Hour(); h >= morningStartHour && h <= morningEndHour && sched.LastMorningDate != today {
		events = append(events, types.MoodEvent{Type: types.EventMorning, At: now})
		sched.LastMorningDate = today
	}
	mood = emotion.ApplyEvents(mood, events)
	mood.LastUpdated = now

	dec := rhythm.Decide(rhythm.Input{
		Now:            now,
		State:          sched,
		Frequency:      bot.Frequency,
		Chronotype:     bot.Chronotype,
		Traits:         bot.Traits,
		UTCOffsetHours: bot.UTCOffsetHours,
	}, o.randFor(bot.ID, now))
	res.Reason = dec.Reason
	res.LocalHour = dec.LocalHour
	res.DailyMood = dec.DailyMoodLabel
	res.Emotion = mood.CurrentEmotion
	if dryRun {
		res.Posted = dec.ShouldPost
		return res
	}

	st.Mood = mood
	st.Schedule = dec.UpdatedState
	st.Memory.CurrentMood = mood.CurrentEmotion
	// Persist the schedule before generating so a failed post still counts
	// against the daily cap. Queued events leave the inbox in the same write.
	if err := o.store.CommitTickState(ctx, bot.ID, st, eventsThrough); err != nil {
		res.Err = err
		return res
	}

	mem := st.Memory
	if dec.ShouldPost {
		digest, theme, err := o.post(ctx, bot, st, now)
		if err != nil {
			res.Err = err
			return res
		}
		res.Posted = true
		res.PostID = digest.ID
		mem = memory.AppendPost(mem, digest)
		if theme != "" {
			mem = memory.TouchTheme(mem, theme, now)
		}
		st.Mood = emotion.ApplyEvent(st.Mood, types.MoodEvent{Type: types.EventPostedSuccessfully, At: now})
		if local.Hour() < lateNightEndHour {
			st.Mood = emotion.ApplyEvent(st.Mood, types.MoodEvent{Type: types.EventLateNight, At: now})
		}
		res.Emotion = st.Mood.CurrentEmotion
	}

	mem = memory.CleanupCooldowns(mem, now)
	mem = memory.AdvanceThemes(mem, now)

	if reflection.ShouldReflect(mem, now) {
		insights, err := o.reflect(ctx, bot, mem, now)
		if err != nil {
			o.logger.Warn("reflection failed", "bot", bot.ID, "error", err)
		} else if len(insights) > 0 {
			mem = reflection.ApplyReflections(mem, insights, now)
			res.Reflected = true
		}
	}

	mem.CurrentMood = st.Mood.CurrentEmotion
	st.Memory = mem
	if err := o.store.SaveState(ctx, bot.ID, st); err != nil {
		res.Err = err
		return res
	}
	return res
}

// post generates and publishes one post, returning its digest and the
// running theme it continued, if any.
func (o *Orchestrator) post(ctx context.Context, bot types.Bot, st store.BotState, now time.Time) (types.PostDigest, string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return types.PostDigest{}, "", fmt.Errorf("wait for generation slot: %w", err)
	}
	var themes []string
	for _, th := range st.Memory.RunningThemes {
		if th.Status == types.ThemeActive {
			themes = append(themes, th.Theme)
		}
	}
	post, err := o.gen.GeneratePost(ctx, generate.PostRequest{
		Bot:               bot,
		Mood:              st.Mood,
		MoodPrompt:        emotion.FormatForPrompt(st.Mood),
		MemoryContext:     memory.BuildContext(st.Memory, o.opts.TopicCooldownHours, now),
		ReflectionContext: reflection.FormatForPrompt(st.Memory.Reflections, now),
		CooldownTopics:    memory.TopicsOnCooldown(st.Memory, o.opts.TopicCooldownHours, now),
		ActiveThemes:      themes,
		AvoidList:         st.Memory.AvoidList,
		Now:               now,
	})
	if err != nil {
		return types.PostDigest{}, "", fmt.Errorf("generate post: %w", err)
	}
	id, err := o.pub.Publish(ctx, bot, post)
	if err != nil {
		return types.PostDigest{}, "", fmt.Errorf("publish post: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return types.PostDigest{
		ID:       id,
		Summary:  post.Summary,
		Topic:    post.Topic,
		Mood:     st.Mood.CurrentEmotion,
		PostedAt: now,
	}, post.Theme, nil
}

func (o *Orchestrator) reflect(ctx context.Context, bot types.Bot, mem types.BotMemory, now time.Time) ([]types.ReflectionInsight, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for generation slot: %w", err)
	}
	raw, err := o.gen.Reflect(ctx, generate.ReflectRequest{
		Bot:    bot,
		Prompt: reflection.BuildPrompt(bot.Name, mem, now),
		Memory: mem,
		Now:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("generate reflection: %w", err)
	}
	return reflection.ParseInsights(raw, len(mem.RecentPosts), now), nil
}

// loadState returns the stored state or a fresh one for a bot that has never
// ticked.
func (o *Orchestrator) loadState(ctx context.Context, bot types.Bot) (store.BotState, error) {
	st, err := o.store.LoadState(ctx, bot.ID)
	if errors.Is(err, store.ErrNotFound) {
		return store.BotState{Mood: emotion.DefaultMood(bot.Archetype), Memory: memory.New()}, nil
	}
	if err != nil {
		return store.BotState{}, fmt.Errorf("load state: %w", err)
	}
	st.Memory = memory.Normalize(st.Memory)
	return st, nil
}

func botLockKey(id string) string {
	return "bot:" + id
}

// Run ticks immediately and then every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.Tick(ctx, false); err != nil {
			o.logger.Error("tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
