package orchestrator

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/petpulse/internal/emotion"
	"github.com/xiy/petpulse/internal/generate"
	"github.com/xiy/petpulse/internal/memory"
	"github.com/xiy/petpulse/internal/pairlock"
	"github.com/xiy/petpulse/internal/rhythm"
	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/pkg/types"
)

type constRand float64

func (r constRand) Float64() float64 { return float64(r) }
func (r constRand) IntN(n int) int   { return int(float64(r) * float64(n)) }

type fakeGenerator struct {
	*generate.Template
	failPost   map[string]error
	reflectErr error
}

func (g *fakeGenerator) GeneratePost(ctx context.Context, req generate.PostRequest) (generate.Post, error) {
	if err := g.failPost[req.Bot.ID]; err != nil {
		return generate.Post{}, err
	}
	return g.Template.GeneratePost(ctx, req)
}

func (g *fakeGenerator) Reflect(ctx context.Context, req generate.ReflectRequest) (string, error) {
	if g.reflectErr != nil {
		return "", g.reflectErr
	}
	return g.Template.Reflect(ctx, req)
}

type countingPublisher struct {
	mu    sync.Mutex
	posts map[string]int
}

func (p *countingPublisher) Publish(_ context.Context, bot types.Bot, _ generate.Post) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.posts == nil {
		p.posts = map[string]int{}
	}
	p.posts[bot.ID]++
	return "post-" + bot.ID, nil
}

// conflictStore fails the first n relationship saves with a version conflict.
type conflictStore struct {
	*store.SQLiteStore
	mu sync.Mutex
	n  int
}

func (c *conflictStore) SaveRelationship(ctx context.Context, rel types.RelationshipData) (types.RelationshipData, error) {
	c.mu.Lock()
	if c.n > 0 {
		c.n--
		c.mu.Unlock()
		return types.RelationshipData{}, store.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.SQLiteStore.SaveRelationship(ctx, rel)
}

// failingCommitStore fails the first n tick commits.
type failingCommitStore struct {
	*store.SQLiteStore
	mu sync.Mutex
	n  int
}

func (f *failingCommitStore) CommitTickState(ctx context.Context, botID string, st store.BotState, eventsThrough int64) error {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.SQLiteStore.CommitTickState(ctx, botID, st, eventsThrough)
}

var noon = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	orch  *Orchestrator
	store *store.SQLiteStore
	gen   *fakeGenerator
	pub   *countingPublisher
}

func newHarness(t *testing.T, now time.Time, wrap func(*store.SQLiteStore) store.Store) *harness {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "petpulse.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var backing store.Store = st
	if wrap != nil {
		backing = wrap(st)
	}
	h := &harness{
		store: st,
		gen:   &fakeGenerator{Template: generate.NewTemplate()},
		pub:   &countingPublisher{},
	}
	h.orch, err = New(Deps{
		Store:     backing,
		Generator: h.gen,
		Publisher: h.pub,
		Locker:    pairlock.NewLocal(),
		Clock:     func() time.Time { return now },
		RandFor:   func(string, time.Time) rhythm.Rand { return constRand(0.5) },
	}, Options{
		MaxConcurrentBots:   4,
		GenerationPerMinute: 6000,
		GenerationBurst:     100,
		InteractionRetries:  3,
	}, logger)
	require.NoError(t, err)
	return h
}

func (h *harness) addBot(t *testing.T, id, archetype string) types.Bot {
	t.Helper()
	bot := types.Bot{ID: id, Name: id + "-name", Archetype: archetype, Active: true}
	require.NoError(t, h.store.UpsertBot(context.Background(), bot))
	return bot
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{}, Options{}, log.NewWithOptions(io.Discard, log.Options{}))
	require.Error(t, err)
}

func TestTick_PostsAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")

	report, err := h.orch.Tick(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.True(t, res.Posted)
	assert.Equal(t, "post-mochi", res.PostID)
	assert.Equal(t, "normal", res.DailyMood)
	assert.Equal(t, 1, report.Posted)

	st, err := h.store.LoadState(ctx, "mochi")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Schedule.PostsToday)
	assert.Equal(t, noon, st.Schedule.LastPostAt.UTC())
	require.Len(t, st.Memory.RecentPosts, 1)
	assert.Equal(t, "post-mochi", st.Memory.RecentPosts[0].ID)
	assert.NotEmpty(t, st.Memory.RecentPosts[0].Topic)
	assert.Contains(t, memory.TopicsOnCooldown(st.Memory, 6, noon), st.Memory.RecentPosts[0].Topic)
	assert.Equal(t, st.Mood.CurrentEmotion, st.Memory.CurrentMood)

	logs, err := h.store.RecentTickLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, report.RunID, logs[0].RunID)
	assert.True(t, logs[0].Posted)
}

func TestTick_SecondTickRespectsInterval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")

	_, err := h.orch.Tick(ctx, false)
	require.NoError(t, err)
	report, err := h.orch.Tick(ctx, false)
	require.NoError(t, err)
	assert.False(t, report.Results[0].Posted)
	assert.Contains(t, report.Results[0].Reason, "posted recently")
	assert.Equal(t, 1, h.pub.posts["mochi"])
}

func TestTick_OneFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")
	h.addBot(t, "rex", "chaotic")
	h.gen.failPost = map[string]error{"rex": errors.New("model unavailable")}

	report, err := h.orch.Tick(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Posted)
	assert.Equal(t, 1, report.Failed)

	byID := map[string]BotResult{}
	for _, r := range report.Results {
		byID[r.BotID] = r
	}
	assert.True(t, byID["mochi"].Posted)
	require.Error(t, byID["rex"].Err)
	assert.Contains(t, byID["rex"].Error, "model unavailable")

	// The schedule was saved before generation, so the attempt still counts.
	st, err := h.store.LoadState(ctx, "rex")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Schedule.PostsToday)
	assert.Empty(t, st.Memory.RecentPosts)
}

func TestTick_DryRunPersistsNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")
	_, err := h.orch.RecordEvents(ctx, "mochi", []types.MoodEvent{{Type: types.EventHypeReceived}})
	require.NoError(t, err)

	report, err := h.orch.Tick(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.True(t, report.Results[0].Posted)

	_, err = h.store.LoadState(ctx, "mochi")
	assert.ErrorIs(t, err, store.ErrNotFound)
	stats, err := h.store.Stats(ctx, noon)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.PendingEvents)
	assert.EqualValues(t, 0, stats.Ticks)
	assert.Empty(t, h.pub.posts)
}

func TestTick_DrainsQueuedEventsAndAppliesMorning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	morning := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	h := newHarness(t, morning, nil)
	h.addBot(t, "mochi", "brooding")

	n, err := h.orch.RecordEvents(ctx, "mochi", []types.MoodEvent{
		{Type: "hype_received"},
		{Type: types.EventPostLiked},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = h.orch.Tick(ctx, false)
	require.NoError(t, err)

	stats, err := h.store.Stats(ctx, morning)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.PendingEvents)

	st, err := h.store.LoadState(ctx, "mochi")
	require.NoError(t, err)
	assert.Equal(t, "2026-06-01", st.Schedule.LastMorningDate)
	assert.Equal(t, morning, st.Mood.LastUpdated.UTC())
}

func TestTick_FailedCommitKeepsQueuedEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := &failingCommitStore{n: 1}
	h := newHarness(t, noon, func(s *store.SQLiteStore) store.Store {
		fs.SQLiteStore = s
		return fs
	})
	h.addBot(t, "mochi", "brooding")

	_, err := h.orch.RecordEvents(ctx, "mochi", []types.MoodEvent{
		{Type: types.EventHypeReceived},
		{Type: types.EventHypeReceived},
	})
	require.NoError(t, err)

	report, err := h.orch.Tick(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "disk full")
	assert.Empty(t, h.pub.posts)

	stats, err := h.store.Stats(ctx, noon)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.PendingEvents)
	_, err = h.store.LoadState(ctx, "mochi")
	assert.ErrorIs(t, err, store.ErrNotFound)

	report, err = h.orch.Tick(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)

	stats, err = h.store.Stats(ctx, noon)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.PendingEvents)
	st, err := h.store.LoadState(ctx, "mochi")
	require.NoError(t, err)
	assert.Greater(t, st.Mood.Pleasure, emotion.DefaultMood("brooding").Pleasure)
}

func TestTick_ReflectsWhenDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sage")

	mem := memory.New()
	for i := 0; i < 3; i++ {
		mem = memory.AppendPost(mem, types.PostDigest{
			ID:       "p",
			Topic:    "tea",
			Summary:  "tea again",
			PostedAt: noon.Add(-time.Duration(i+1) * 4 * time.Hour),
		})
	}
	require.NoError(t, h.store.SaveState(ctx, "mochi", store.BotState{Memory: mem}))

	report, err := h.orch.Tick(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Results[0].Reflected)

	st, err := h.store.LoadState(ctx, "mochi")
	require.NoError(t, err)
	require.NotEmpty(t, st.Memory.Reflections)
	assert.Equal(t, noon, st.Memory.LastReflectionAt.UTC())
}

func TestTick_ReflectionFailureLeavesMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sage")
	h.gen.reflectErr = errors.New("timeout")

	mem := memory.New()
	for i := 0; i < 3; i++ {
		mem = memory.AppendPost(mem, types.PostDigest{ID: "p", Topic: "tea", PostedAt: noon.Add(-time.Duration(i+1) * 4 * time.Hour)})
	}
	require.NoError(t, h.store.SaveState(ctx, "mochi", store.BotState{Memory: mem}))

	report, err := h.orch.Tick(ctx, false)
	require.NoError(t, err)
	require.NoError(t, report.Results[0].Err)
	assert.False(t, report.Results[0].Reflected)

	st, err := h.store.LoadState(ctx, "mochi")
	require.NoError(t, err)
	assert.Empty(t, st.Memory.Reflections)
	assert.True(t, st.Memory.LastReflectionAt.IsZero())
}

func TestRecordInteraction_BeefThreeTimes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")
	h.addBot(t, "biscuit", "rebel")

	var rel types.RelationshipData
	var err error
	for i := 0; i < 3; i++ {
		rel, err = h.orch.RecordInteraction(ctx, Interaction{From: "mochi", To: "biscuit", Type: types.InteractionBeef, Message: "you again"})
		require.NoError(t, err)
	}
	assert.Equal(t, "biscuit", rel.PetIDA)
	assert.Equal(t, "mochi", rel.PetIDB)
	assert.InDelta(t, -0.45, rel.SentimentScore, 1e-9)
	assert.Equal(t, types.SentimentHater, rel.Sentiment)
	assert.Equal(t, 3, rel.InteractionCount)
	assert.EqualValues(t, 3, rel.Version)

	for _, pair := range [][2]string{{"mochi", "biscuit-name"}, {"biscuit", "mochi-name"}} {
		st, err := h.store.LoadState(ctx, pair[0])
		require.NoError(t, err)
		require.Len(t, st.Memory.Relationships, 1)
		assert.Equal(t, pair[1], st.Memory.Relationships[0].Name)
		assert.Equal(t, types.SentimentHater, st.Memory.Relationships[0].Sentiment)
	}

	stats, err := h.store.Stats(ctx, noon)
	require.NoError(t, err)
	assert.EqualValues(t, 6, stats.PendingEvents)

	msgs, err := h.store.RecentInteractionMessages(ctx, "biscuit", "mochi", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestRecordInteraction_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")

	_, err := h.orch.RecordInteraction(ctx, Interaction{From: "mochi", To: "mochi", Type: types.InteractionHype})
	require.Error(t, err)
	_, err = h.orch.RecordInteraction(ctx, Interaction{From: "mochi", To: "ghost", Type: types.InteractionHype})
	assert.ErrorIs(t, err, store.ErrNotFound)
	h.addBot(t, "ghost", "brooding")
	_, err = h.orch.RecordInteraction(ctx, Interaction{From: "mochi", To: "ghost", Type: "poke"})
	assert.ErrorIs(t, err, types.ErrUnknownInteraction)
}

func TestRecordInteraction_RetriesVersionConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := &conflictStore{n: 2}
	h := newHarness(t, noon, func(s *store.SQLiteStore) store.Store {
		cs.SQLiteStore = s
		return cs
	})
	h.addBot(t, "mochi", "sunshine")
	h.addBot(t, "biscuit", "rebel")

	rel, err := h.orch.RecordInteraction(ctx, Interaction{From: "mochi", To: "biscuit", Type: types.InteractionHype})
	require.NoError(t, err)
	assert.Equal(t, 1, rel.InteractionCount)

	cs.mu.Lock()
	cs.n = 10
	cs.mu.Unlock()
	_, err = h.orch.RecordInteraction(ctx, Interaction{From: "mochi", To: "biscuit", Type: types.InteractionHype})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestRecordInteraction_ConcurrentWritersLoseNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")
	h.addBot(t, "biscuit", "rebel")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "mochi", "biscuit"
			if i%2 == 0 {
				from, to = to, from
			}
			_, err := h.orch.RecordInteraction(ctx, Interaction{From: from, To: to, Type: types.InteractionLike})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rel, err := h.store.GetRelationship(ctx, "biscuit", "mochi")
	require.NoError(t, err)
	assert.Equal(t, 10, rel.InteractionCount)
	assert.InDelta(t, 0.3, rel.SentimentScore, 1e-9)
}

func TestRelationshipContext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")
	h.addBot(t, "biscuit", "rebel")

	text, err := h.orch.RelationshipContext(ctx, "mochi", "biscuit")
	require.NoError(t, err)
	assert.Contains(t, text, "haven't interacted with biscuit-name")

	_, err = h.orch.RecordInteraction(ctx, Interaction{From: "biscuit", To: "mochi", Type: types.InteractionHype, Message: "love the sunbeams"})
	require.NoError(t, err)
	text, err = h.orch.RelationshipContext(ctx, "mochi", "biscuit")
	require.NoError(t, err)
	assert.Contains(t, text, "You and biscuit-name")
	assert.Contains(t, text, "love the sunbeams")
}

func TestContext_FreshBot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")

	bc, err := h.orch.Context(ctx, "mochi")
	require.NoError(t, err)
	assert.Equal(t, memory.FirstPostContext, bc.MemoryContext)
	assert.NotEmpty(t, bc.MoodPrompt)
	assert.Empty(t, bc.CooldownTopics)
	assert.False(t, bc.ReflectionDue)

	_, err = h.orch.Context(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDecide_DoesNotPersist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")

	dec, err := h.orch.Decide(ctx, "mochi")
	require.NoError(t, err)
	assert.True(t, dec.ShouldPost)
	assert.Equal(t, 12, dec.LocalHour)

	_, err = h.store.LoadState(ctx, "mochi")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCleanupCooldowns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, noon, nil)
	h.addBot(t, "mochi", "sunshine")
	h.addBot(t, "rex", "chaotic")

	mem := memory.New()
	mem.TopicCooldowns["naps"] = noon.Add(-30 * time.Hour)
	mem.TopicCooldowns["tea"] = noon.Add(-time.Hour)
	require.NoError(t, h.store.SaveState(ctx, "mochi", store.BotState{Memory: mem}))

	n, err := h.orch.CleanupCooldowns(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	st, err := h.store.LoadState(ctx, "mochi")
	require.NoError(t, err)
	assert.NotContains(t, st.Memory.TopicCooldowns, "naps")
	assert.Contains(t, st.Memory.TopicCooldowns, "tea")

	n, err = h.orch.CleanupCooldowns(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
