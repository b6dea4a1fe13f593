// Command omnidial runs the OmniTech voice agent: an inbound line, a
// single prospect call, or a sequential outbound campaign over the call
// queue. The email and script modes draft a follow-up email or an
// opening call script for a prospect instead of placing a call.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/omnitech-labs/omnidial/internal/metrics"
	"github.com/omnitech-labs/omnidial/pkg/agentprofile"
	"github.com/omnitech-labs/omnidial/pkg/campaign"
	"github.com/omnitech-labs/omnidial/pkg/compose"
	"github.com/omnitech-labs/omnidial/pkg/crm"
	"github.com/omnitech-labs/omnidial/pkg/notify"
	"github.com/omnitech-labs/omnidial/pkg/store"
	"github.com/omnitech-labs/omnidial/pkg/voice"
	"github.com/omnitech-labs/omnidial/pkg/voice/devices"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "omnidial:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	cfg, err := parseConfig(args, os.Getenv)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("omnidial")
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	crmStore, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if !cfg.VoiceMode() {
		return runDraft(ctx, cfg, crmStore)
	}

	var notifier crm.Notifier
	if cfg.SMSGatewayURL != "" {
		notifier = notify.NewSMSClient(cfg.SMSGatewayURL, cfg.SMSAPIKey)
	} else {
		notifier = logNotifier{logger: logger}
	}

	provider := devices.NewProvider()
	defer provider.Close()

	dialer := &voice.WebSocketDialer{URL: cfg.BackendURL, APIKey: cfg.APIKey}

	deps := sessionDeps{
		devices: provider,
		dialer:  dialer,
		logger:  logger,
		metrics: m,
		model:   cfg.Model,
	}

	switch cfg.Mode {
	case "inbound":
		profile := agentprofile.Inbound(crmStore, notifier)
		logger.Info("answering inbound line", "model", deps.modelFor(profile))
		return runSession(ctx, deps, profile)

	case "detail":
		prospect, err := crmStore.GetProspect(ctx, cfg.ProspectID)
		if err != nil {
			return err
		}
		profile, outcome := agentprofile.DetailView(crmStore, notifier, prospect)
		logger.Info("calling prospect", "contact", prospect.Contact, "company", prospect.Company)
		if err := runSession(ctx, deps, profile); err != nil {
			return err
		}
		if outcome.Logged() {
			logger.Info("call logged", "disposition", outcome.Disposition())
		}
		return nil

	case "campaign":
		return runCampaign(ctx, deps, crmStore, notifier, cfg, m)
	}
	return nil
}

// runDraft generates a follow-up email or a call script for a prospect
// and prints it. Email drafts work from the most recent logged call.
func runDraft(ctx context.Context, cfg Config, crmStore crm.Store) error {
	composer, err := compose.NewComposer(ctx, cfg.APIKey)
	if err != nil {
		return err
	}
	prospect, err := crmStore.GetProspect(ctx, cfg.ProspectID)
	if err != nil {
		return err
	}

	var text string
	switch cfg.Mode {
	case "email":
		logs, err := crmStore.CallLogsForProspect(ctx, prospect.ID)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			return fmt.Errorf("prospect %d has no logged call to follow up on", prospect.ID)
		}
		text, err = composer.FollowUpEmail(ctx, prospect, logs[len(logs)-1])
		if err != nil {
			return err
		}
	case "script":
		text, err = composer.CallScript(ctx, prospect)
		if err != nil {
			return err
		}
	}
	fmt.Println(text)
	return nil
}

func openStore(ctx context.Context, cfg Config) (crm.Store, func(), error) {
	if cfg.Store == "postgres" {
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		pg, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	if cfg.Seed {
		return crm.NewSeededMemoryStore(), func() {}, nil
	}
	return crm.NewMemoryStore(), func() {}, nil
}

// logNotifier stands in when no SMS gateway is configured.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) SendMessage(ctx context.Context, phone, message string) error {
	n.logger.Info("sms (not sent, no gateway configured)", "to", phone, "message", message)
	return nil
}

type sessionDeps struct {
	devices voice.DeviceProvider
	dialer  voice.Dialer
	logger  *slog.Logger
	metrics voice.Metrics
	model   string
}

func (d sessionDeps) modelFor(p agentprofile.Profile) string {
	if d.model != "" {
		return d.model
	}
	return p.Model
}

func newSession(deps sessionDeps, profile agentprofile.Profile) (*voice.Session, error) {
	return voice.NewSession(voice.SessionConfig{
		Model:    deps.modelFor(profile),
		System:   profile.System,
		Tools:    profile.Tools,
		Handlers: profile.Handlers,
		Devices:  deps.devices,
		Dialer:   deps.dialer,
		Logger:   deps.logger.With("profile", profile.Name),
		Metrics:  deps.metrics,
	})
}

// runSession drives one session to completion, printing the conversation
// as it happens. A signal stops the session and waits for teardown.
func runSession(ctx context.Context, deps sessionDeps, profile agentprofile.Profile) error {
	sess, err := newSession(deps, profile)
	if err != nil {
		return err
	}
	go printEvents(sess.Events())

	if err := sess.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		sess.Stop()
		<-sess.Done()
	case <-sess.Done():
	}
	return sess.Err()
}

func printEvents(events <-chan voice.Event) {
	for event := range events {
		switch e := event.(type) {
		case voice.TurnEvent:
			fmt.Printf("[%s] %s\n", e.Turn.Speaker, e.Turn.Text)
		case voice.NotificationEvent:
			fmt.Printf("* %s\n", e.Message)
		case voice.ToolCallEvent:
			fmt.Printf("* tool: %s\n", e.Name)
		}
	}
}

func runCampaign(ctx context.Context, deps sessionDeps, crmStore crm.Store, notifier crm.Notifier, cfg Config, m *metrics.Metrics) error {
	factory := func(prospect crm.Prospect) (campaign.CallSession, error) {
		profile, outcome := agentprofile.Outbound(crmStore, notifier, prospect)
		sess, err := newSession(deps, profile)
		if err != nil {
			return nil, err
		}
		go printEvents(sess.Events())
		return campaign.WrapVoiceSession(sess, func() campaign.CallResult {
			return campaign.CallResult{Disposition: outcome.Disposition(), Logged: outcome.Logged()}
		}), nil
	}

	orch, err := campaign.NewOrchestrator(campaign.Config{
		Queue:   crmStore,
		Factory: factory,
		Delay:   cfg.InterCallDelay,
		Logger:  deps.logger,
		Metrics: m,
		OnNotification: func(n voice.NotificationEvent) {
			fmt.Printf("* %s\n", n.Message)
		},
	})
	if err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		orch.Stop()
	case <-orch.Done():
	}
	return nil
}
