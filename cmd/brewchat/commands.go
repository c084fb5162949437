package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"brewchat/internal/agent/session"
	"brewchat/internal/agentapp"
	"brewchat/internal/chat"
	"brewchat/internal/threads"
	"brewchat/internal/transcript"
)

func newSendCmd(app *cli) *cobra.Command {
	var (
		threadID     string
		assignments  []string
		noTranscript bool
	)
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and stream the agent's reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.newChatClient(clientOptions{
				assignments:  assignments,
				noTranscript: noTranscript,
				out:          cmd.OutOrStdout(),
				errOut:       cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			var opts []chat.SendOption
			if threadID = strings.TrimSpace(threadID); threadID != "" {
				if err := client.resume(app.ctx, threadID); err != nil {
					return err
				}
				opts = append(opts, chat.InThread(threadID))
			}

			if err := client.send(app.ctx, strings.Join(args, " "), opts...); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "thread: %s\n", client.chat.ThreadID())
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "Continue an existing thread")
	cmd.Flags().StringArrayVar(&assignments, "state", nil, "Set shared state before the run (path=value, repeatable)")
	cmd.Flags().BoolVar(&noTranscript, "no-transcript", false, "Do not record a local transcript")
	return cmd
}

func newChatCmd(app *cli) *cobra.Command {
	var (
		assignments  []string
		noTranscript bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat with the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.newChatClient(clientOptions{
				assignments:  assignments,
				noTranscript: noTranscript,
				out:          cmd.OutOrStdout(),
				errOut:       cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			return client.repl(app.ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringArrayVar(&assignments, "state", nil, "Set shared state before the first run (path=value, repeatable)")
	cmd.Flags().BoolVar(&noTranscript, "no-transcript", false, "Do not record a local transcript")
	return cmd
}

// resume loads a thread's conversation from the thread service. An unknown
// thread starts empty under that id.
func (c *chatClient) resume(ctx context.Context, threadID string) error {
	thread, err := c.threads.Get(ctx, threadID)
	switch {
	case errors.Is(err, threads.ErrThreadNotFound):
		log.Debug(ctx, log.KV{K: "msg", V: "thread not found on server"}, log.KV{K: "thread_id", V: threadID})
	case err != nil:
		return fmt.Errorf("load thread %s: %w", threadID, err)
	default:
		c.chat.LoadMessages(thread.Conversation(), threadID)
	}
	if c.recorder != nil {
		if err := c.recorder.Resume(ctx, threadID); err != nil {
			return fmt.Errorf("resume transcript: %w", err)
		}
	}
	return nil
}

// repl reads lines from in until EOF or /quit. Runs execute in the background
// so /stop and /status stay responsive while the agent is streaming.
func (c *chatClient) repl(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	env := agentapp.CommandEnv{
		Chat:    c.chat,
		Threads: c.threads,
		OnNewThread: func() {
			if c.recorder != nil {
				c.recorder.Reset()
			}
		},
		OnResume: func(threadID string) {
			if c.recorder == nil {
				return
			}
			if err := c.recorder.Resume(ctx, threadID); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "resume transcript"}, log.KV{K: "thread_id", V: threadID})
			}
		},
		AppendAssistant: func(text string) { _, _ = fmt.Fprintln(out, text) },
		AppendError:     func(text string) { _, _ = fmt.Fprintf(errOut, "error: %s\n", text) },
	}

	var scanErr error
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr = scanner.Err()
	}()

	_, _ = fmt.Fprintln(out, "Type a message, or /help for commands.")

	// done is non-nil while a run is in flight.
	var done chan error
	wait := func() {
		if done != nil {
			if err := <-done; err != nil {
				_, _ = fmt.Fprintf(errOut, "error: %v\n", err)
			}
			done = nil
		}
	}

	for {
		if done == nil {
			_, _ = fmt.Fprint(out, "> ")
		}
		select {
		case <-ctx.Done():
			c.chat.Stop()
			wait()
			return nil
		case err := <-done:
			done = nil
			if err != nil {
				_, _ = fmt.Fprintf(errOut, "error: %v\n", err)
			}
		case line, ok := <-lines:
			if !ok {
				wait()
				return scanErr
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if agentapp.IsSlashCommand(line) {
				if agentapp.ExecuteSlashCommand(ctx, line, env) {
					wait()
					return nil
				}
				continue
			}
			if done != nil {
				_, _ = fmt.Fprintln(errOut, "A run is in progress. Use /stop to cancel it.")
				continue
			}
			ch := make(chan error, 1)
			done = ch
			go func() { ch <- c.send(ctx, line) }()
		}
	}
}

func newThreadsCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List, show and delete threads stored by the agent",
	}

	client := func() (*threads.Client, error) {
		settings, err := app.cfg.AgentSettings()
		if err != nil {
			return nil, err
		}
		return threads.New(settings.ThreadsURL, threads.WithHeaders(headerResolver(settings)))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List threads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := client()
			if err != nil {
				return err
			}
			list, err := tc.List(app.ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No threads.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, t := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.Title, t.MessageCount, t.UpdatedAt)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := client()
			if err != nil {
				return err
			}
			thread, err := tc.Get(app.ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if thread.Title != "" {
				_, _ = fmt.Fprintf(out, "# %s\n\n", thread.Title)
			}
			for _, msg := range thread.Messages {
				_, _ = fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := client()
			if err != nil {
				return err
			}
			if err := tc.Delete(app.ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s.\n", args[0])
			return nil
		},
	})
	return cmd
}

func newReplayCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [thread-id]",
		Short: "Rebuild a conversation from its local transcript",
		Long:  "Without a thread id, lists recorded transcripts. With one, replays its events through the reducer and prints the resulting conversation.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := transcript.NewStore(app.cfg.Transcript.Dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				infos, err := store.List(app.ctx)
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					_, _ = fmt.Fprintf(out, "No transcripts in %s.\n", store.Dir())
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "THREAD\tUPDATED\tBYTES")
				for _, info := range infos {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", info.ThreadID, info.UpdatedAt.Format(time.RFC3339), info.SizeBytes)
				}
				return tw.Flush()
			}

			entries, err := store.Load(app.ctx, args[0])
			if err != nil {
				return err
			}
			state, err := transcript.Replay(entries)
			if err != nil {
				return err
			}

			for _, msg := range session.AllMessages(state) {
				_, _ = fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
			}
			for _, call := range state.ToolCalls {
				_, _ = fmt.Fprintf(out, "[tool %s] %s %s -> %s\n", call.Status, call.Name, call.Args, call.Result)
			}
			if state.AgentState != nil {
				raw, err := json.MarshalIndent(state.AgentState, "", "  ")
				if err != nil {
					return fmt.Errorf("encode agent state: %w", err)
				}
				_, _ = fmt.Fprintf(out, "Agent state: %s\n", raw)
			}
			_, _ = fmt.Fprintf(out, "status=%s entries=%d\n", state.Status, len(entries))
			if state.Error != "" {
				_, _ = fmt.Fprintf(out, "error=%q\n", state.Error)
			}
			return nil
		},
	}
}
