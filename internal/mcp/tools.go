package mcp

import "github.com/xiy/petpulse/pkg/types"

// ToolDefinition models MCP tool metadata.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func toolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "bot_context",
			Description: "Return a bot's current mood, memory and reflection prompt context.",
			InputSchema: jsonSchema(map[string]any{
				"bot_id": propString("Bot identifier."),
			}, []string{"bot_id"}),
		},
		{
			Name:        "bot_record_events",
			Description: "Queue mood events for a bot. They are applied on its next tick.",
			InputSchema: jsonSchema(map[string]any{
				"bot_id": propString("Bot identifier."),
				"events": propStringArray("Mood event types.", eventTypeNames()),
			}, []string{"bot_id", "events"}),
		},
		{
			Name:        "bot_record_engagement",
			Description: "Convert engagement counts on a bot's latest post into queued mood events.",
			InputSchema: jsonSchema(map[string]any{
				"bot_id":                  propString("Bot identifier."),
				"likes":                   propCount("Likes received."),
				"replies":                 propCount("Replies received."),
				"mentions":                propCount("Mentions received."),
				"posted_without_response": propBoolean("True when the post got no engagement at all."),
			}, []string{"bot_id"}),
		},
		{
			Name:        "relationship_record",
			Description: "Record an interaction from one bot to another and update their relationship.",
			InputSchema: jsonSchema(map[string]any{
				"from":    propString("Acting bot."),
				"to":      propString("Target bot."),
				"type":    propStringEnum("Interaction type.", interactionTypeNames()),
				"delta":   propNumber("Optional sentiment delta overriding the type's default."),
				"message": propString("Optional message text kept for future prompts."),
			}, []string{"from", "to", "type"}),
		},
		{
			Name:        "relationship_context",
			Description: "Describe how one bot feels about another, for a reply prompt.",
			InputSchema: jsonSchema(map[string]any{
				"self":  propString("Bot whose point of view to use."),
				"other": propString("The other bot."),
			}, []string{"self", "other"}),
		},
		{
			Name:        "bot_decide",
			Description: "Dry-run the posting rhythm for a bot. Nothing is persisted.",
			InputSchema: jsonSchema(map[string]any{
				"bot_id": propString("Bot identifier."),
			}, []string{"bot_id"}),
		},
	}
}

func eventTypeNames() []string {
	return []string{
		string(types.EventPostLiked), string(types.EventGotReply), string(types.EventGotMentioned),
		string(types.EventBeefInteraction), string(types.EventHypeReceived), string(types.EventIgnored),
		string(types.EventMorning), string(types.EventLateNight), string(types.EventPostedSuccessfully),
	}
}

func interactionTypeNames() []string {
	return []string{
		string(types.InteractionHype), string(types.InteractionBeef), string(types.InteractionReplyPositive),
		string(types.InteractionReplyDismissive), string(types.InteractionMention), string(types.InteractionFlirt),
		string(types.InteractionCollab), string(types.InteractionLike), string(types.InteractionDebate),
		string(types.InteractionIgnore),
	}
}

func jsonSchema(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func propString(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func propStringEnum(description string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func propNumber(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func propCount(description string) map[string]any {
	return map[string]any{"type": "integer", "minimum": 0, "description": description}
}

func propBoolean(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func propStringArray(description string, values []string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       map[string]any{"type": "string", "enum": values},
	}
}
