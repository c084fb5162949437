package devagent

import (
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"brewchat/internal/agui"
)

// defaultMaxTokens is used when the server is not given an explicit token budget.
const defaultMaxTokens = 1024

// toSDKParams converts a turn into an Anthropic Messages request.
func toSDKParams(model string, maxTokens int, turn Turn) (anthropic.MessageNewParams, error) {
	if strings.TrimSpace(model) == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("%w: model is required", ErrInvalidTurn)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages, system := toSDKMessages(turn.Messages)
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("%w: no conversation messages", ErrInvalidTurn)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}

	prompts := make([]string, 0, len(system)+1)
	if strings.TrimSpace(turn.System) != "" {
		prompts = append(prompts, turn.System)
	}
	prompts = append(prompts, system...)
	if len(prompts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(prompts, "\n\n")}}
	}

	if len(turn.Tools) > 0 {
		tools, err := toSDKTools(turn.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// toSDKMessages maps conversation history into SDK messages. System messages
// are returned separately for the system prompt. Tool calls are only replayed
// when they carry a result, since the API rejects unanswered tool_use blocks.
func toSDKMessages(messages []agui.Message) ([]anthropic.MessageParam, []string) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case agui.RoleUser:
			if msg.Content == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case agui.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			results := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				if strings.TrimSpace(call.ID) == "" || strings.TrimSpace(call.Name) == "" || call.Result == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, decodeJSONObjectOrEmpty(call.Args), call.Name))
				results = append(results, anthropic.NewToolResultBlock(call.ID, call.Result, call.Status == agui.ToolStatusError))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
			if len(results) > 0 {
				out = append(out, anthropic.NewUserMessage(results...))
			}
		case agui.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				system = append(system, msg.Content)
			}
		}
	}
	return out, system
}

// toSDKTools converts client tool definitions into SDK tool params.
func toSDKTools(tools []agui.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema, err := agui.DecodeToolSchema(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("decode tool schema for %q: %w", tool.Name, err)
		}
		param := anthropic.ToolParam{
			Name: tool.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		if strings.TrimSpace(tool.Description) != "" {
			param.Description = anthropic.String(tool.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func decodeJSONObjectOrEmpty(raw string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
