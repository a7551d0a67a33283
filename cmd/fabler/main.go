package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fabler-audio/fabler/internal/config"
	"github.com/fabler-audio/fabler/internal/pipeline"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath   string
		inputPath    string
		outputDir    string
		voiceExpr    string
		engineName   string
		benchEngines string
		showVersion  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	flag.StringVar(&inputPath, "input", "", "Path to the EPUB document to convert")
	flag.StringVar(&outputDir, "output", "", "Output directory (overrides config)")
	flag.StringVar(&voiceExpr, "voice", "", "Voice blend expression, e.g. \"af_heart*0.7+bm_lewis*0.3\" (overrides config)")
	flag.StringVar(&engineName, "engine", "", "Synthesis engine: mock, kokoro or xtts (overrides config)")
	flag.StringVar(&benchEngines, "bench", "", "Comma-separated engines to benchmark on built-in sample text instead of converting")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if inputPath == "" && benchEngines == "" {
		fmt.Fprintln(os.Stderr, "fabler: -input is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabler: %v\n", err)
		os.Exit(1)
	}
	if outputDir != "" {
		cfg.Output.Directory = outputDir
	}
	if voiceExpr != "" {
		cfg.Voice.Expression = voiceExpr
	}
	if engineName != "" {
		cfg.Engine.Name = engineName
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Telemetry.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if benchEngines != "" {
		if err := runBench(ctx, cfg, strings.Split(benchEngines, ",")); err != nil {
			logger.Error("benchmark failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, inputPath, logger); err != nil {
		logger.Error("conversion failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, inputPath string, logger *slog.Logger) error {
	telemetryShutdown, metricsHandler, err := pipeline.SetupTelemetry(cfg.Telemetry, version, logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	p, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.Telemetry.StatusBind != "" {
		status := pipeline.NewStatusServer(cfg.Telemetry.StatusBind, metricsHandler, p.Progress, logger)
		status.Start()
		defer status.Shutdown(context.Background())
	}

	report, err := p.Run(ctx, inputPath)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s (%s of audio, %d units", report.OutputPath, report.Duration.Round(time.Second), report.Units)
	if report.SilenceSubstituted > 0 {
		fmt.Printf(", %d replaced with silence", report.SilenceSubstituted)
	}
	fmt.Println(")")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
