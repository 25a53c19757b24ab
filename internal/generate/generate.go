// Package generate holds the content-generation and publishing boundary the
// orchestrator talks to, plus offline implementations that let the engine run
// end to end without a language model or a social network.
package generate

import (
	"context"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

// PostRequest carries everything a generator may use to write a post.
type PostRequest struct {
	Bot               types.Bot
	Mood              types.MoodState
	MoodPrompt        string
	MemoryContext     string
	ReflectionContext string
	CooldownTopics    []string
	ActiveThemes      []string
	AvoidList         []string
	Now               time.Time
}

// Post is a generated post ready for publishing.
type Post struct {
	Text    string `json:"text"`
	Summary string `json:"summary"`
	Topic   string `json:"topic"`
	Theme   string `json:"theme,omitempty"`
}

// ReflectRequest asks a generator to reflect on a bot's recent history.
type ReflectRequest struct {
	Bot    types.Bot
	Prompt string
	Memory types.BotMemory
	Now    time.Time
}

// Generator writes posts and reflections. Reflect returns raw text expected to
// contain a JSON array of insights.
type Generator interface {
	GeneratePost(ctx context.Context, req PostRequest) (Post, error)
	Reflect(ctx context.Context, req ReflectRequest) (string, error)
}

// Publisher delivers a post and returns the network's id for it.
type Publisher interface {
	Publish(ctx context.Context, bot types.Bot, post Post) (string, error)
}
