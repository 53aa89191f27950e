package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/arbiter"
	"github.com/kapu/lichess-copilot/internal/archive"
	"github.com/kapu/lichess-copilot/internal/auth"
	"github.com/kapu/lichess-copilot/internal/channel"
	appcfg "github.com/kapu/lichess-copilot/internal/config"
	"github.com/kapu/lichess-copilot/internal/decision"
	"github.com/kapu/lichess-copilot/internal/diag"
	"github.com/kapu/lichess-copilot/internal/engine"
	"github.com/kapu/lichess-copilot/internal/execute"
	"github.com/kapu/lichess-copilot/internal/hud"
	"github.com/kapu/lichess-copilot/internal/humanize"
	"github.com/kapu/lichess-copilot/internal/livestate"
	"github.com/kapu/lichess-copilot/internal/loop"
	"github.com/kapu/lichess-copilot/internal/obslog"
	"github.com/kapu/lichess-copilot/internal/position"
	"github.com/kapu/lichess-copilot/internal/resilience"
	"github.com/kapu/lichess-copilot/internal/webdriver"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load("config.yaml")
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown_requested", zap.String("signal", sig.String()))
		cancel()
	}()

	client := webdriver.NewClient(cfg.WebDriverURL)
	sess, err := client.NewSession(ctx, cfg.BrowserName)
	if err != nil {
		logger.Fatal("browser session failed", zap.Error(err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = sess.Delete(closeCtx)
	}()

	if cfg.Username != "" {
		err := auth.Login(ctx, sess, cfg.LichessURL, auth.Credentials{
			Username:   cfg.Username,
			Password:   cfg.Password,
			TOTPSecret: cfg.TOTPSecret,
		}, logger)
		if err != nil {
			logger.Fatal("login failed", zap.Error(err))
		}
	}
	if err := sess.Navigate(ctx, cfg.LichessURL); err != nil {
		logger.Fatal("open site failed", zap.Error(err))
	}

	store := position.NewStore()

	probe := func(ctx context.Context) error {
		_, err := sess.CurrentURL(ctx)
		return err
	}
	sup := resilience.NewSupervisor(resilience.Policy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		IsTransient: webdriver.IsTransient,
	}, cfg.FailureThreshold, probe, logger)
	ch := channel.New(sess, sup, channel.Config{
		StartupWait: cfg.StartupWait,
		PollTimeout: cfg.PollTimeout,
	}, logger)

	capture := diag.NewCapture(cfg.DebugDir, ch, store, logger)
	capture.Prune()

	eng, err := engine.New(ctx, engine.Config{
		BinaryPath: cfg.EnginePath,
		Depth:      cfg.EngineDepth,
		MoveTime:   time.Duration(cfg.EngineMoveTime) * time.Millisecond,
		HashMB:     cfg.EngineHashMB,
		Threads:    cfg.EngineThreads,
	}, logger)
	if err != nil {
		logger.Fatal("engine start failed", zap.Error(err))
	}
	defer func() { _ = eng.Close() }()

	pacer := humanize.NewPacer(humanize.Profiles{
		Base:     profile(cfg.Humanize.BaseMin, cfg.Humanize.BaseMax),
		Thinking: profile(cfg.Humanize.ThinkingMin, cfg.Humanize.ThinkingMax),
		Moving:   profile(cfg.Humanize.MovingMin, cfg.Humanize.MovingMax),
	})

	mode := execute.Gated
	if cfg.AutoPlay {
		mode = execute.Autonomous
	}
	latch := &execute.Latch{}
	if mode == execute.Gated {
		listener := execute.NewKeyListener(cfg.MoveKey, latch, os.Stdin, logger)
		go listener.Run(ctx)
	}
	var submitter execute.Submitter = ch
	if !cfg.ShowArrow {
		submitter = execute.NoArrow{Submitter: ch}
	}
	controller := execute.NewController(mode, submitter, latch, pacer, logger)

	var broadcaster *hud.Broadcaster
	if cfg.HUDListenAddr != "" {
		broadcaster = hud.NewBroadcaster(cfg.HUDListenAddr, logger)
		go func() {
			if err := broadcaster.Run(ctx); err != nil {
				logger.Warn("hud server stopped", zap.Error(err))
			}
		}()
	}

	live, err := livestate.Open(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	if live != nil {
		defer func() { _ = live.Close() }()
	}

	repo, err := archive.NewRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	deps := loop.Deps{
		Table:   ch,
		Reader:  channel.NewReader(ch, capture, logger),
		Arbiter: arbiter.New(logger),
		Decider: decision.New(ch, eng, logger),
		Exec:    controller,
		Sup:     sup,
		Store:   store,
		Pacer:   pacer,
		Capture: capture,
		Live:    live,
		Archive: repo,
		Engine:  eng,
		Logger:  logger,
	}
	if broadcaster != nil {
		deps.HUD = broadcaster
	}

	runner := loop.New(loop.Config{
		EscalationTicks: cfg.EscalationTicks,
		TickInterval:    cfg.TickInterval,
	}, deps)

	logger.Info("copilot_running",
		zap.String("mode", mode.String()),
		zap.String("browser", cfg.BrowserName))
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("lifecycle loop exited", zap.Error(err))
	}
	logger.Info("copilot_stopped")
}

func profile(minSec, maxSec float64) humanize.Profile {
	return humanize.Profile{
		Min: time.Duration(minSec * float64(time.Second)),
		Max: time.Duration(maxSec * float64(time.Second)),
	}
}
