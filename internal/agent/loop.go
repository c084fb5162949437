package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"goa.design/clue/log"

	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
	"brewchat/internal/stream"
)

// maxDrainBytes bounds how much trailing body is discarded after the done
// sentinel so the connection can be reused.
const maxDrainBytes = 4 << 10

func (r *Runner) stream(ctx context.Context, current *run, cfg agui.RunConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}

	var headers map[string]string
	if r.headers != nil {
		headers, err = r.headers.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("resolve request headers: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	log.Debug(ctx,
		log.KV{K: "msg", V: "starting agent run"},
		log.KV{K: "endpoint", V: r.endpoint},
		log.KV{K: "thread", V: cfg.ThreadID},
		log.KV{K: "messages", V: len(cfg.Messages)},
	)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send agent request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, r.maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	observer, _ := current.sink.(EventObserver)
	dec := stream.NewDecoder(ctx, resp.Body)
	for dec.Next() {
		ev := dec.Event()
		if unknown, ok := ev.(*agui.Unknown); ok {
			log.Warn(ctx,
				log.KV{K: "msg", V: "ignoring unknown agent event"},
				log.KV{K: "type", V: string(unknown.Kind)},
			)
		}

		applied := current.apply(func(s session.State) session.State {
			return session.Reduce(s, ev)
		})
		if !applied {
			return context.Canceled
		}
		if observer != nil {
			observer.Observe(ev)
		}
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("read agent stream: %w", err)
	}
	if n := dec.Dropped(); n > 0 {
		log.Debug(ctx, log.KV{K: "msg", V: "agent stream had malformed frames"}, log.KV{K: "dropped", V: n})
	}
	return nil
}
