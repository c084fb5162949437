package devagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"goa.design/clue/log"

	"brewchat/internal/agui"
)

// AnthropicConfig configures the Anthropic-backed model.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Version    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	Retry      RetryPolicy
}

// AnthropicModel streams turns from the Anthropic Messages API.
type AnthropicModel struct {
	apiKey    string
	model     string
	maxTokens int
	retry     RetryPolicy

	client anthropic.Client
}

// NewAnthropicModel constructs a model with normalized defaults.
func NewAnthropicModel(cfg AnthropicConfig) *AnthropicModel {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // retries happen in streamWithRetry
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	return &AnthropicModel{
		apiKey:    apiKey,
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: cfg.MaxTokens,
		retry:     normalizeRetryPolicy(cfg.Retry),
		client:    anthropic.NewClient(clientOptions...),
	}
}

// Stream runs one Messages API stream and emits it as protocol events.
func (m *AnthropicModel) Stream(ctx context.Context, turn Turn, emit Emit) error {
	if m == nil {
		return errors.New("anthropic model is nil")
	}
	if m.apiKey == "" {
		return ErrMissingAPIKey
	}

	params, err := toSDKParams(m.model, m.maxTokens, turn)
	if err != nil {
		return err
	}

	state := &streamState{tools: map[int64]string{}}
	if err := m.streamWithRetry(ctx, params, emit, state); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	log.Debug(ctx, log.KV{K: "msg", V: "model turn finished"}, log.KV{K: "stop_reason", V: state.stopReason})
	return nil
}

// streamState tracks one logical turn across retry attempts.
type streamState struct {
	messageID      string
	textOpen       bool
	emittedVisible bool
	done           bool
	stopReason     string
	// tools maps content block index to tool call id.
	tools map[int64]string
}

// streamWithRetry retries a failed stream only while nothing has reached the client.
func (m *AnthropicModel) streamWithRetry(ctx context.Context, params anthropic.MessageNewParams, emit Emit, state *streamState) error {
	attempt := 0
	for {
		attemptErr := m.streamOnce(ctx, params, emit, state)
		if attemptErr == nil {
			return nil
		}
		if errors.Is(attemptErr, context.Canceled) || errors.Is(attemptErr, context.DeadlineExceeded) {
			return attemptErr
		}
		if !isRetryable(attemptErr) || state.emittedVisible || attempt >= m.retry.MaxRetries {
			return attemptErr
		}

		delay := backoffDelay(m.retry, attempt)
		log.Warn(ctx,
			log.KV{K: "msg", V: "retrying model stream"},
			log.KV{K: "attempt", V: attempt + 1},
			log.KV{K: "delay", V: delay.String()},
			log.KV{K: "err", V: attemptErr.Error()},
		)
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
		attempt++
	}
}

// streamOnce consumes one SDK stream.
func (m *AnthropicModel) streamOnce(ctx context.Context, params anthropic.MessageNewParams, emit Emit, state *streamState) error {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer func() {
		_ = stream.Close()
	}()

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.handleStreamEvent(stream.Current(), emit, state); err != nil {
			return err
		}
		if state.done {
			return nil
		}
	}

	if err := stream.Err(); err != nil {
		wrapped := fmt.Errorf("anthropic sdk stream: %w", err)
		if isRetryableProviderError(err) {
			return markRetryable(wrapped)
		}
		return wrapped
	}
	if state.done {
		return nil
	}
	return markRetryable(errors.New("anthropic stream ended without message_stop"))
}

// handleStreamEvent maps one Anthropic stream event onto protocol events.
func (m *AnthropicModel) handleStreamEvent(event anthropic.MessageStreamEventUnion, emit Emit, state *streamState) error {
	switch variant := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		if state.messageID == "" {
			state.messageID = variant.Message.ID
		}
		if state.messageID == "" {
			state.messageID = uuid.NewString()
		}
		return nil

	case anthropic.ContentBlockStartEvent:
		switch block := variant.ContentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			if err := state.openText(emit); err != nil {
				return err
			}
			if block.Text == "" {
				return nil
			}
			return emit(&agui.TextMessageContent{MessageID: state.messageID, Delta: block.Text})

		case anthropic.ToolUseBlock:
			state.tools[variant.Index] = block.ID
			state.emittedVisible = true
			if err := emit(&agui.ToolCallStart{
				ToolCallID:      block.ID,
				ToolCallName:    block.Name,
				ParentMessageID: state.messageID,
			}); err != nil {
				return err
			}
			rawInput, err := json.Marshal(block.Input)
			if err != nil {
				return fmt.Errorf("marshal tool_use input: %w", err)
			}
			if input := strings.TrimSpace(string(rawInput)); input != "" && input != "{}" && input != "null" {
				return emit(&agui.ToolCallArgs{ToolCallID: block.ID, Delta: input})
			}
			return nil
		default:
			// Thinking and server-side tool blocks are not surfaced to the client.
			return nil
		}

	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text == "" {
				return nil
			}
			if err := state.openText(emit); err != nil {
				return err
			}
			return emit(&agui.TextMessageContent{MessageID: state.messageID, Delta: delta.Text})
		case anthropic.InputJSONDelta:
			id, ok := state.tools[variant.Index]
			if !ok {
				return fmt.Errorf("tool call not found for content block %d", variant.Index)
			}
			if delta.PartialJSON == "" {
				return nil
			}
			return emit(&agui.ToolCallArgs{ToolCallID: id, Delta: delta.PartialJSON})
		default:
			return nil
		}

	case anthropic.ContentBlockStopEvent:
		id, ok := state.tools[variant.Index]
		if !ok {
			return nil
		}
		delete(state.tools, variant.Index)
		return emit(&agui.ToolCallEnd{ToolCallID: id})

	case anthropic.MessageDeltaEvent:
		if variant.Delta.StopReason != "" {
			state.stopReason = string(variant.Delta.StopReason)
		}
		return nil

	case anthropic.MessageStopEvent:
		state.done = true
		if !state.textOpen {
			return nil
		}
		state.textOpen = false
		return emit(&agui.TextMessageEnd{MessageID: state.messageID})
	}
	return nil
}

// openText starts the assistant text message once per turn.
func (s *streamState) openText(emit Emit) error {
	if s.textOpen {
		return nil
	}
	if s.messageID == "" {
		s.messageID = uuid.NewString()
	}
	s.textOpen = true
	s.emittedVisible = true
	return emit(&agui.TextMessageStart{MessageID: s.messageID, Role: agui.RoleAssistant})
}
