package generate

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/petpulse/internal/reflection"
	"github.com/xiy/petpulse/pkg/types"
)

func TestTemplate_GeneratePostAvoidsCooldownTopics(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	bot := types.Bot{ID: "mochi", Archetype: "sage"}
	blocked := append([]string{"philosophy", "old books", "tea"}, fallbackTopics...)

	gen := NewTemplate()
	for i := 0; i < 20; i++ {
		post, err := gen.GeneratePost(context.Background(), PostRequest{
			Bot:            bot,
			Mood:           types.MoodState{CurrentEmotion: "serene"},
			CooldownTopics: blocked,
			Now:            now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("GeneratePost() error = %v", err)
		}
		if post.Topic != "patience" {
			t.Fatalf("expected the only open topic, got %q", post.Topic)
		}
		if post.Text == "" || post.Summary == "" {
			t.Fatalf("expected text and summary, got %+v", post)
		}
	}
}

func TestTemplate_GeneratePostIsDeterministicPerMinute(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 5, 0, time.UTC)
	req := PostRequest{Bot: types.Bot{ID: "rex", Archetype: "chaotic"}, Now: now}
	a, _ := NewTemplate().GeneratePost(context.Background(), req)
	req.Now = now.Add(30 * time.Second)
	b, _ := NewTemplate().GeneratePost(context.Background(), req)
	if a != b {
		t.Fatalf("expected identical posts within one minute, got %+v and %+v", a, b)
	}
}

func TestTemplate_ReflectProducesParseableInsights(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mem := types.BotMemory{
		RecentPosts: []types.PostDigest{{Topic: "naps"}, {Topic: "naps"}, {Topic: "tea"}},
		Relationships: []types.RelationshipEntry{
			{Name: "Biscuit", Sentiment: types.SentimentNemesis},
		},
	}
	raw, err := NewTemplate().Reflect(context.Background(), ReflectRequest{Memory: mem, Now: now})
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	insights := reflection.ParseInsights(raw, len(mem.RecentPosts), now)
	if len(insights) != 2 {
		t.Fatalf("expected 2 insights, got %d from %s", len(insights), raw)
	}
	if !strings.Contains(insights[0].Insight, "naps") || insights[1].Category != types.CategoryRelationship {
		t.Fatalf("unexpected insights: %+v", insights)
	}
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	pub := NewLogPublisher(log.NewWithOptions(&buf, log.Options{}))
	id, err := pub.Publish(context.Background(), types.Bot{ID: "mochi"}, Post{Text: "hi", Topic: "greetings"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id == "" || !strings.Contains(buf.String(), "post published") {
		t.Fatalf("expected id and log line, got id=%q log=%q", id, buf.String())
	}
}
