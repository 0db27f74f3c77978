package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/user/yesman/internal/api"
	"github.com/user/yesman/internal/collector"
	"github.com/user/yesman/internal/config"
	"github.com/user/yesman/internal/detector"
	"github.com/user/yesman/internal/engine"
	"github.com/user/yesman/internal/hub"
	"github.com/user/yesman/internal/learner"
	"github.com/user/yesman/internal/monitor"
	"github.com/user/yesman/internal/pattern"
	"github.com/user/yesman/internal/pty"
	"github.com/user/yesman/internal/server"
	"github.com/user/yesman/internal/store"
	"github.com/user/yesman/internal/term"
	"github.com/user/yesman/internal/tmux"
)

const recordPruneInterval = 1 * time.Hour

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, filepath.Join(cfg.DataDir, "yesman.db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	registry, err := pattern.Load(cfg.PatternDir)
	if err != nil {
		return fmt.Errorf("failed to load prompt patterns: %w", err)
	}

	weightRepo := store.NewWeightRepo(db.SQL())
	recordRepo := store.NewRecordRepo(db.SQL())

	learn := learner.New(weightRepo, slog.Default(),
		learner.WithRecomputeEvery(cfg.RecomputeEvery),
		learner.WithInterval(cfg.RecomputeInterval.Std()),
	)
	if err := learn.LoadSnapshot(ctx); err != nil {
		return err
	}

	transport, relauncher, localPane, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := transport.(interface{ Close() }); ok {
		defer closer.Close()
	}

	hubInst := hub.New(cfg.Token, func(sessionID, paneID, keys, recordID string) {
		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := transport.SendKeys(sendCtx, paneID, keys); err != nil {
			slog.Error("failed to deliver human response", "session", sessionID, "pane", paneID, "error", err)
			return
		}
		if recordID == "" {
			return
		}
		// An answered escalation is a learning signal for the human's
		// token.
		rec, err := recordRepo.Get(sendCtx, recordID)
		if err != nil {
			slog.Warn("respond referenced unknown record", "record", recordID, "error", err)
			return
		}
		if !rec.AutoApplied {
			learn.ObserveEscalation(pattern.PromptType(rec.PromptType), strings.TrimSpace(keys))
		}
	})

	manager := monitor.NewManager(ctx, monitor.Deps{
		Transport:            transport,
		Relauncher:           relauncher,
		Collector:            collector.New(transport, cfg.CaptureLines),
		Detector:             detector.New(registry, cfg.ConfidenceFloor),
		Engine:               engine.New(cfg.AutoThreshold, cfg.EscalateFloor, autoSelectDefaults(cfg)),
		Learner:              learn,
		Records:              recordRepo,
		Notifier:             hubInst,
		Logger:               slog.Default(),
		PollInterval:         cfg.PollInterval.Std(),
		ResponseDelay:        cfg.ResponseDelay.Std(),
		Cooldown:             cfg.Cooldown.Std(),
		RestartBudget:        cfg.RestartBudget,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	})
	defer manager.Shutdown()

	go hubInst.Run(ctx)
	go learn.Run(ctx)
	go pruneRecords(ctx, recordRepo, cfg.MaxRecords)

	// Standalone mode monitors its spawned process immediately.
	if localPane != "" {
		if err := manager.Start(ctx, "local", monitor.StartOptions{
			PaneID:         localPane,
			RestartCommand: cfg.ExecCommand,
		}); err != nil {
			return fmt.Errorf("failed to start standalone monitor: %w", err)
		}
	}

	router := api.NewRouter(manager, recordRepo, weightRepo, learn, cfg.GraceWindow.Std(), cfg.Token)

	fmt.Printf("\nyesmand running at http://%s:%d?token=%s\n\n", cfg.Host, cfg.Port, cfg.Token)

	srv := server.New(cfg, hubInst, router)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildTransport picks the pane transport: a managed PTY when an exec
// command is configured, the tmux server otherwise. Returns the local
// pane ID in PTY mode.
func buildTransport(ctx context.Context, cfg *config.Config) (term.Transport, term.Relauncher, string, error) {
	if cfg.ExecCommand != "" {
		runner := pty.NewRunner()
		paneID, err := runner.Spawn(cfg.ExecCommand, "")
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to spawn %q: %w", cfg.ExecCommand, err)
		}
		slog.Info("running in standalone pty mode", "command", cfg.ExecCommand, "pane", paneID)
		return runner, runner, paneID, nil
	}

	client := tmux.NewClient(cfg.CaptureLines)
	if err := client.SessionExists(ctx, cfg.TmuxSession); err != nil {
		return nil, nil, "", err
	}
	slog.Info("attached to tmux session", "session", cfg.TmuxSession)
	return client, client, "", nil
}

func autoSelectDefaults(cfg *config.Config) map[pattern.PromptType]string {
	defaults := make(map[pattern.PromptType]string, len(cfg.AutoSelect))
	for name, token := range cfg.AutoSelect {
		t := pattern.PromptType(name)
		if !t.Valid() {
			slog.Warn("ignoring auto_select entry for unknown prompt type", "type", name)
			continue
		}
		defaults[t] = token
	}
	return defaults
}

// pruneRecords caps the decision log, discarding the oldest rows.
func pruneRecords(ctx context.Context, records *store.RecordRepo, max int) {
	if max <= 0 {
		return
	}
	ticker := time.NewTicker(recordPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := records.Prune(ctx, max)
			if err != nil {
				slog.Error("failed to prune decision records", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned decision records", "removed", n, "cap", max)
			}
		}
	}
}
