package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"brewchat/internal/config"
	"brewchat/internal/devagent"
)

const shutdownTimeout = 10 * time.Second

func newDevAgentCmd(app *cli) *cobra.Command {
	var (
		addr string
		echo bool
	)
	cmd := &cobra.Command{
		Use:   "dev-agent",
		Short: "Serve a local agent backend for development",
		Long:  "Serves POST /agent/run and the /threads routes. Uses the Anthropic Messages API when an API key is configured and a local echo model otherwise.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := devAgentModel(app.ctx, app.cfg, echo)
			if err != nil {
				return err
			}
			srv, err := devagent.NewServer(devagent.Config{Model: model, System: app.cfg.DevAgent.System})
			if err != nil {
				return err
			}
			if addr = strings.TrimSpace(addr); addr == "" {
				addr = app.cfg.DevAgent.Addr
			}
			return serve(app.ctx, addr, log.HTTP(app.ctx)(srv))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to dev_agent.addr)")
	cmd.Flags().BoolVar(&echo, "echo", false, "Serve the echo model even when an API key is configured")
	return cmd
}

func devAgentModel(ctx context.Context, cfg config.Config, echo bool) (devagent.Model, error) {
	settings, err := cfg.AnthropicSettings()
	if err != nil {
		return nil, err
	}
	if echo || settings.APIKey == "" {
		if !echo {
			log.Warn(ctx, log.KV{K: "msg", V: "no Anthropic API key configured, serving echo model"})
		}
		return devagent.EchoModel{}, nil
	}
	log.Info(ctx, log.KV{K: "msg", V: "serving anthropic model"}, log.KV{K: "model", V: settings.Model})
	return devagent.NewAnthropicModel(devagent.AnthropicConfig{
		APIKey:    settings.APIKey,
		BaseURL:   settings.BaseURL,
		Version:   settings.Version,
		Model:     settings.Model,
		MaxTokens: cfg.DevAgent.MaxTokens,
		Retry: devagent.RetryPolicy{
			MaxRetries: settings.Retry.MaxRetries,
			BaseDelay:  settings.Retry.BaseDelay,
			MaxDelay:   settings.Retry.MaxDelay,
		},
	}), nil
}

// serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf(ctx, "dev agent listening on %q", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf(ctx, "shutting down dev agent at %q", addr)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
