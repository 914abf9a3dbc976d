package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
	"github.com/afschowdhury/excavator-video-analyzer/internal/api"
	"github.com/afschowdhury/excavator-video-analyzer/internal/config"
	"github.com/afschowdhury/excavator-video-analyzer/internal/jobs"
	"github.com/afschowdhury/excavator-video-analyzer/internal/logging"
	"github.com/afschowdhury/excavator-video-analyzer/internal/report"
	"github.com/afschowdhury/excavator-video-analyzer/internal/store"
	"github.com/afschowdhury/excavator-video-analyzer/internal/watcher"
)

var Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Expected 'analyze' or 'serve' subcommand")
		os.Exit(1)
	}
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		fmt.Println("Expected 'analyze' or 'serve' subcommand")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(analysis.ExitCode(err))
	}
}

func runAnalyze(args []string) error {
	analyzeCmd := flag.NewFlagSet("analyze", flag.ExitOnError)
	videoPath := analyzeCmd.String("video", "", "Path or URL of the video to analyze")
	configPath := analyzeCmd.String("config", "", "Path to config.toml")
	narrative := analyzeCmd.Bool("narrative", false, "Add model-written narrative analysis to the report")
	analyzeCmd.Parse(args)

	if *videoPath == "" {
		return analysis.NewError(analysis.KindConfigInvalid, "cli", "",
			fmt.Errorf("-video is required"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *narrative {
		cfg.Report.Narrative = true
	}

	logger := logging.NewLogger(cfg.Log.Level)
	logger.Info("starting analysis", "version", Version, "source", logging.SanitizePath(*videoPath))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	analyzer, err := newAnalyzer(cfg, logger)
	if err != nil {
		return err
	}

	result, err := analyzer.Analyze(ctx, *videoPath, func(stage string, percent int, message string) {
		logger.Info("progress", "stage", stage, "percent", percent)
	})
	if err != nil {
		return err
	}

	path, err := report.Save(cfg.Report.Dir, result.SourceID, result.Report)
	if err != nil {
		return analysis.NewError(analysis.KindInternal, "cli", result.SourceID, err)
	}

	fmt.Printf("Analyzed %s: %d cycles over %d frames\n", result.SourceID, len(result.Cycles), result.FrameCount)
	fmt.Printf("Report written to %s\n", path)
	return nil
}

func runServe(args []string) error {
	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := serveCmd.String("config", "", "Path to config.toml")
	serveCmd.Parse(args)

	startTime := time.Now()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.Log.Level)
	logger.Info("starting analyzer agent", "version", Version, "data_dir", cfg.DataDir)

	database, err := store.New(filepath.Join(cfg.DataDir, "analyzer.db"), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	logger.Info("api ready", "port", cfg.Server.Port, "auth_token", logging.SanitizeToken(authToken))

	analyzer, err := newAnalyzer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := jobs.NewRunner(repo, analyzer, cfg.Report.Dir, logger)
	go runner.Start(ctx)

	if cfg.Server.WatchDir != "" {
		w := watcher.NewPollingWatcher(logging.WithComponent(logger, "watcher"), 5*time.Second)
		w.OnChange(func(path string, event watcher.EventType) {
			if event != watcher.EventCreate || !store.IsVideoFile(path) {
				return
			}
			if _, err := runner.Enqueue(ctx, path); err != nil {
				logger.Error("cannot enqueue watched video", "path", logging.SanitizePath(path), "error", err)
			}
		})
		go func() {
			if err := w.Watch(ctx, cfg.Server.WatchDir); err != nil {
				logger.Error("watcher failed", "error", err)
			}
		}()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Server.Port,
		Repository: repo,
		Runner:     runner,
		Logger:     logger,
		StartTime:  startTime,
		Version:    Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo store.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
