package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"goa.design/clue/log"

	"brewchat/internal/agent"
	"brewchat/internal/agent/session"
	"brewchat/internal/agentapp"
	"brewchat/internal/agui"
	"brewchat/internal/chat"
	"brewchat/internal/config"
	"brewchat/internal/threads"
	"brewchat/internal/transcript"
)

// chatClient is one wired chat client.
type chatClient struct {
	chat       *chat.Session
	threads    *threads.Client
	recorder   *transcript.Recorder
	runTimeout time.Duration
}

type clientOptions struct {
	assignments  []string
	noTranscript bool
	out          io.Writer
	errOut       io.Writer
}

// newChatClient builds the runner, thread client, transcript recorder and chat
// session from config.
func (a *cli) newChatClient(opts clientOptions) (*chatClient, error) {
	settings, err := a.cfg.AgentSettings()
	if err != nil {
		return nil, err
	}
	headers := headerResolver(settings)

	runner, err := agent.New(agent.Config{Endpoint: settings.Endpoint, Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("create runner: %w", err)
	}
	threadClient, err := threads.New(settings.ThreadsURL, threads.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("create thread client: %w", err)
	}

	shared := map[string]any{}
	for _, expr := range opts.assignments {
		shared, err = agentapp.ApplyAssignment(shared, expr)
		if err != nil {
			return nil, fmt.Errorf("--state %q: %w", expr, err)
		}
	}

	tools, err := brewingTools()
	if err != nil {
		return nil, err
	}

	rt := &chatClient{threads: threadClient, runTimeout: settings.RunTimeout}
	if a.cfg.Transcript.Enabled && !opts.noTranscript {
		store, err := transcript.NewStore(a.cfg.Transcript.Dir)
		if err != nil {
			return nil, fmt.Errorf("open transcript store: %w", err)
		}
		rt.recorder, err = transcript.NewRecorder(store)
		if err != nil {
			return nil, err
		}
		if err := rt.recorder.AppendMeta(a.ctx, map[string]any{"endpoint": settings.Endpoint}); err != nil {
			return nil, fmt.Errorf("write transcript meta: %w", err)
		}
	}

	printer := &eventPrinter{out: opts.out, errOut: opts.errOut}
	rt.chat, err = chat.New(chat.Config{
		Runner: runner,
		Tools:  tools,
		State:  shared,
		OnEvent: func(ev agui.Event, state session.State) {
			printer.print(ev)
			if rt.recorder == nil {
				return
			}
			if err := rt.recorder.Record(a.ctx, ev, state); err != nil {
				log.Error(a.ctx, err, log.KV{K: "msg", V: "record transcript event"})
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// send runs one message under the configured run timeout. The runner treats an
// expired deadline like a user abort, so the timeout is reported here.
func (c *chatClient) send(ctx context.Context, content string, opts ...chat.SendOption) error {
	runCtx := ctx
	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}
	err := c.chat.Send(runCtx, content, opts...)
	timedOut := ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if err == nil && timedOut && c.chat.Status() == session.StatusDisconnected {
		return fmt.Errorf("agent run timed out after %s: %w", c.runTimeout, context.DeadlineExceeded)
	}
	return err
}

func headerResolver(settings config.AgentSettings) agent.HeaderResolver {
	resolvers := make([]agent.HeaderResolver, 0, 2)
	if len(settings.Headers) > 0 {
		resolvers = append(resolvers, agent.StaticHeaders(settings.Headers))
	}
	if settings.Token != "" {
		token := settings.Token
		resolvers = append(resolvers, agent.BearerToken(func(context.Context) (string, error) {
			return token, nil
		}))
	}
	return agent.ChainHeaders(resolvers...)
}

// eventPrinter streams assistant text to out and tool activity to errOut.
type eventPrinter struct {
	out    io.Writer
	errOut io.Writer
	// open is set while an assistant message is being printed.
	open bool
}

func (p *eventPrinter) print(ev agui.Event) {
	switch e := ev.(type) {
	case *agui.TextMessageContent:
		p.write(e.Delta)
	case *agui.TextMessageChunk:
		p.write(e.Text())
	case *agui.TextMessageEnd:
		p.endLine()
	case *agui.RunFinished, *agui.RunError:
		p.endLine()
	case *agui.ToolCallStart:
		p.endLine()
		_, _ = fmt.Fprintf(p.errOut, "[tool] %s (%s)\n", e.Name(), e.ToolCallID)
	case *agui.ToolCallResult:
		_, _ = fmt.Fprintf(p.errOut, "[tool result] %s: %s\n", e.ToolCallID, e.Output())
	case *agui.StepStarted:
		_, _ = fmt.Fprintf(p.errOut, "[step] %s\n", e.StepName)
	}
}

func (p *eventPrinter) write(text string) {
	if text == "" {
		return
	}
	p.open = true
	_, _ = io.WriteString(p.out, text)
}

func (p *eventPrinter) endLine() {
	if !p.open {
		return
	}
	p.open = false
	_, _ = io.WriteString(p.out, "\n")
}
