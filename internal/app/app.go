// Package app wires MindHaven's modules together and runs the event loop:
// inbound messages from the transport are dispatched to the conversation
// pipeline, control commands are answered directly, and the outreach sweeps
// run on their cron cadences until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haven-labs/mindhaven/internal/chatlog"
	"github.com/haven-labs/mindhaven/internal/flow"
	"github.com/haven-labs/mindhaven/internal/genai"
	"github.com/haven-labs/mindhaven/internal/lockfile"
	"github.com/haven-labs/mindhaven/internal/messaging"
	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/haven-labs/mindhaven/internal/outreach"
	"github.com/haven-labs/mindhaven/internal/prompts"
	"github.com/haven-labs/mindhaven/internal/scheduler"
	"github.com/haven-labs/mindhaven/internal/store"
	"github.com/haven-labs/mindhaven/internal/twiliowhatsapp"
	"github.com/haven-labs/mindhaven/internal/whatsapp"
)

// DefaultStateDir is the default directory for MindHaven state data.
const DefaultStateDir = "/var/lib/mindhaven"

// Opts holds application-level configuration.
type Opts struct {
	StateDir      string
	Flow          flow.Config
	Outreach      outreach.Config
	TwilioEnabled bool
}

// Option defines an application configuration option.
type Option func(*Opts)

// WithStateDir sets the state directory.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithFlowConfig sets the conversation policy configuration.
func WithFlowConfig(cfg flow.Config) Option {
	return func(o *Opts) { o.Flow = cfg }
}

// WithOutreachConfig sets the outreach sweep configuration.
func WithOutreachConfig(cfg outreach.Config) Option {
	return func(o *Opts) { o.Outreach = cfg }
}

// WithTwilioOutreach routes outreach sends through the Twilio fallback
// channel instead of the primary transport.
func WithTwilioOutreach() Option {
	return func(o *Opts) { o.TwilioEnabled = true }
}

// Run assembles the modules and blocks until SIGINT/SIGTERM.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, appOpts []Option) error {
	var cfg Opts
	for _, opt := range appOpts {
		opt(&cfg)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}

	// One process per state directory: the lock protects the inbound event
	// stream and the outreach sweeps from double execution.
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("app.Run: failed to lock state directory: %w", err)
	}
	defer lock.Release()

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("app.Run: failed to initialize store: %w", err)
	}
	defer st.Close()

	aiClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("app.Run: failed to initialize completion client: %w", err)
	}

	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return fmt.Errorf("app.Run: failed to initialize WhatsApp client: %w", err)
	}
	defer waClient.Disconnect()

	msgr := messaging.NewWhatsAppService(waClient)

	audit, err := chatlog.NewWriter(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("app.Run: failed to initialize chat log: %w", err)
	}

	pipeline := flow.NewPipeline(st, msgr, aiClient, audit, cfg.Flow)

	outreachSender, err := buildOutreachSender(cfg, msgr)
	if err != nil {
		return err
	}
	dispatcher := outreach.NewDispatcher(st, outreachSender, cfg.Outreach)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := dispatcher.Register(sched); err != nil {
		return fmt.Errorf("app.Run: failed to register outreach sweeps: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := msgr.Start(ctx); err != nil {
		return fmt.Errorf("app.Run: failed to start messaging service: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("app.Run: MindHaven started", "state_dir", cfg.StateDir)

	loop := &eventLoop{pipeline: pipeline, msgr: msgr, store: st}
	for {
		select {
		case sig := <-sigCh:
			slog.Info("app.Run: shutdown signal received", "signal", sig.String())
			cancel()
			msgr.Stop()
			pipeline.Wait()
			return nil
		case in, ok := <-msgr.Inbound():
			if !ok {
				slog.Warn("app.Run: inbound channel closed, shutting down")
				pipeline.Wait()
				return nil
			}
			go loop.dispatch(ctx, in)
		}
	}
}

// buildStore chooses the store backend from the configured DSN. An empty DSN
// falls back to the in-memory store, which loses state on restart.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var opts store.Opts
	for _, opt := range storeOpts {
		opt(&opts)
	}
	if opts.DSN == "" {
		slog.Warn("app.buildStore: no database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(opts.DSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}

// buildOutreachSender picks the channel for scheduled sends: the Twilio
// fallback when enabled and configured, otherwise the primary transport.
func buildOutreachSender(cfg Opts, primary messaging.Sender) (messaging.Sender, error) {
	if !cfg.TwilioEnabled {
		return primary, nil
	}
	client, err := twiliowhatsapp.NewClient()
	if err != nil {
		return nil, fmt.Errorf("app: Twilio outreach enabled but client setup failed: %w", err)
	}
	slog.Info("app: outreach sends routed through Twilio")
	return messaging.NewTwilioService(client), nil
}

// eventLoop dispatches one inbound event: control commands are answered
// directly, everything else goes through the conversation pipeline.
type eventLoop struct {
	pipeline *flow.Pipeline
	msgr     messaging.Service
	store    store.Store
}

func (l *eventLoop) dispatch(ctx context.Context, in models.Inbound) {
	text := strings.TrimSpace(in.Text)
	if strings.HasPrefix(text, "/") {
		l.handleCommand(ctx, in.UserID, text)
		return
	}
	if err := l.pipeline.HandleMessage(ctx, in); err != nil {
		slog.Error("app: message handling failed", "userID", in.UserID, "error", err)
	}
}

// handleCommand serves the control events that live outside the core
// pipeline: /start, /help and /reset.
func (l *eventLoop) handleCommand(ctx context.Context, userID string, command string) {
	switch strings.ToLower(strings.Fields(command)[0]) {
	case "/start":
		if _, err := l.store.GetOrCreateSession(userID); err != nil {
			slog.Error("app: /start failed to create session", "userID", userID, "error", err)
			return
		}
		l.reply(ctx, userID, prompts.WelcomeMessage)
	case "/help":
		l.reply(ctx, userID, prompts.HelpMessage)
	case "/reset":
		l.handleReset(ctx, userID)
	default:
		slog.Debug("app: unknown command ignored", "userID", userID, "command", command)
		l.reply(ctx, userID, prompts.HelpMessage)
	}
}

// handleReset delegates to the pipeline so the Crisis -> Normal transition
// runs under the same per-user lock as regular turns.
func (l *eventLoop) handleReset(ctx context.Context, userID string) {
	if err := l.pipeline.ResetCrisis(ctx, userID); err != nil {
		slog.Error("app: /reset failed", "userID", userID, "error", err)
	}
}

func (l *eventLoop) reply(ctx context.Context, userID string, body string) {
	if _, err := l.msgr.SendMessage(ctx, userID, body); err != nil {
		slog.Error("app: failed to send reply", "userID", userID, "error", err)
	}
}
