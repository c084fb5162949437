package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"brewchat/internal/config"
)

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "brewchat: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

// cli carries what every subcommand needs after the root pre-run.
type cli struct {
	configPath string
	debug      bool

	cfg config.Config
	// ctx carries the clue logger.
	ctx context.Context
}

func newRootCmd() *cobra.Command {
	app := &cli{}

	cmd := &cobra.Command{
		Use:           "brewchat",
		Short:         "brewchat talks to a homebrewing agent over a streaming event protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(app.configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app.cfg = cfg
			app.ctx = logContext(cmd.Context(), cmd.ErrOrStderr(), app.debug)
			log.Debug(app.ctx, log.KV{K: "msg", V: "config loaded"}, log.KV{K: "endpoint", V: cfg.Agent.Endpoint})
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&app.configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&app.debug, "debug", false, "Enable debug logs")

	cmd.AddCommand(
		newSendCmd(app),
		newChatCmd(app),
		newThreadsCmd(app),
		newReplayCmd(app),
		newDevAgentCmd(app),
	)
	return cmd
}

func logContext(parent context.Context, out io.Writer, debug bool) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(parent, log.WithFormat(format), log.WithOutput(out))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}
