package generate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiy/petpulse/pkg/types"
)

var archetypeTopics = map[string][]string{
	"trickster": {"pranks", "conspiracy theories", "snacks", "loopholes"},
	"sage":      {"philosophy", "old books", "tea", "patience"},
	"rebel":     {"rules", "the algorithm", "loud music", "bedtimes"},
	"nurturer":  {"friends", "plants", "cozy blankets", "compliments"},
	"chaotic":   {"cardboard boxes", "3am zoomies", "knocking things over", "lasers"},
	"brooding":  {"rain", "the void", "empty food bowls", "poetry"},
	"sunshine":  {"sunbeams", "walks", "belly rubs", "new toys"},
	"overlord":  {"world domination", "loyal subjects", "the red dot", "thrones"},
}

var fallbackTopics = []string{"naps", "snacks", "the weather", "the neighbours", "bath time"}

// Template is an offline Generator that assembles posts from canned phrases.
// Output is deterministic per bot and minute.
type Template struct{}

func NewTemplate() *Template {
	return &Template{}
}

func (Template) GeneratePost(_ context.Context, req PostRequest) (Post, error) {
	rng := seeded(req.Bot.ID, req.Now.Unix()/60)

	topic := pickTopic(req, rng)
	theme := ""
	if len(req.ActiveThemes) > 0 && rng.Float64() < 0.5 {
		theme = req.ActiveThemes[rng.IntN(len(req.ActiveThemes))]
	} else if rng.Float64() < 0.3 {
		theme = "my feelings about " + topic
	}

	label := req.Mood.CurrentEmotion
	if label == "" {
		label = "neutral"
	}
	opener := openers[rng.IntN(len(openers))]
	text := fmt.Sprintf("%s %s about %s", opener, moodWord(label), topic)
	if theme != "" && !strings.HasSuffix(theme, topic) {
		text += ". still thinking about " + theme
	}
	if req.Bot.Traits.Impulsivity > 0.7 {
		text = strings.ToUpper(text) + "!!"
	} else {
		text += "."
	}

	return Post{
		Text:    text,
		Summary: fmt.Sprintf("%s post about %s", label, topic),
		Topic:   topic,
		Theme:   theme,
	}, nil
}

var openers = []string{"honestly", "ok so", "hot take:", "not gonna lie", "update:"}

func moodWord(label string) string {
	base, _, _ := strings.Cut(label, " (")
	switch base {
	case "ecstatic", "excited":
		return "SO hyped"
	case "content", "serene":
		return "feeling good"
	case "furious", "irritated":
		return "so annoyed"
	case "despondent", "melancholy", "gloomy":
		return "a bit down"
	case "restless":
		return "can't sit still"
	case "sleepy":
		return "too sleepy to care"
	}
	return "thinking"
}

func pickTopic(req PostRequest, rng *rand.Rand) string {
	pool := archetypeTopics[strings.ToLower(req.Bot.Archetype)]
	pool = append(slices.Clone(pool), fallbackTopics...)
	blocked := func(topic string) bool {
		for _, c := range req.CooldownTopics {
			if strings.EqualFold(c, topic) {
				return true
			}
		}
		for _, a := range req.AvoidList {
			if strings.Contains(strings.ToLower(topic), strings.ToLower(a)) {
				return true
			}
		}
		return false
	}
	open := pool[:0:0]
	for _, t := range pool {
		if !blocked(t) {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return "nothing in particular"
	}
	return open[rng.IntN(len(open))]
}

type templateInsight struct {
	Category   string  `json:"category"`
	Insight    string  `json:"insight"`
	Confidence float64 `json:"confidence"`
}

func (Template) Reflect(_ context.Context, req ReflectRequest) (string, error) {
	var out []templateInsight

	counts := map[string]int{}
	for _, p := range req.Memory.RecentPosts {
		if p.Topic != "" {
			counts[p.Topic]++
		}
	}
	if topic, n := mostFrequent(counts); n >= 2 {
		out = append(out, templateInsight{
			Category:   "self",
			Insight:    fmt.Sprintf("I keep coming back to %s. Maybe it matters more to me than I admit.", topic),
			Confidence: min(0.3+0.1*float64(n), 0.9),
		})
	}
	for _, r := range req.Memory.Relationships {
		switch r.Sentiment {
		case types.SentimentRival, types.SentimentNemesis, types.SentimentHater:
			out = append(out, templateInsight{Category: "relationship", Insight: fmt.Sprintf("%s really gets under my fur.", r.Name), Confidence: 0.6})
		case types.SentimentFriend, types.SentimentCrush:
			out = append(out, templateInsight{Category: "relationship", Insight: fmt.Sprintf("I'm lucky to have %s around.", r.Name), Confidence: 0.7})
		}
		if len(out) >= 3 {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, templateInsight{Category: "goal", Insight: "I want to find something new to talk about.", Confidence: 0.4})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode insights: %w", err)
	}
	return string(raw), nil
}

func mostFrequent(counts map[string]int) (string, int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, n := "", 0
	for _, k := range keys {
		if counts[k] > n {
			best, n = k, counts[k]
		}
	}
	return best, n
}

func seeded(botID string, bucket int64) *rand.Rand {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", botID, bucket)))
	return rand.New(rand.NewPCG(binary.BigEndian.Uint64(h[:8]), binary.BigEndian.Uint64(h[8:16])))
}

// LogPublisher "publishes" by logging the post.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, bot types.Bot, post Post) (string, error) {
	id := uuid.NewString()
	p.logger.Info("post published", "bot", bot.ID, "id", id, "topic", post.Topic, "text", post.Text)
	return id, nil
}
