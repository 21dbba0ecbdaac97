package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"

	"github.com/zombor/bluebin/internal/detection"
	"github.com/zombor/bluebin/internal/overlay"
	"github.com/zombor/bluebin/internal/recycle"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("bluebin")
	var (
		port              = fs.IntLong("port", 8080, "HTTP server port")
		dbPath            = fs.StringLong("db", "bluebin.db", "Database file path")
		storageBackend    = fs.StringLong("storage-backend", "local", "Feedback image storage: 'local' or 's3'")
		storagePath       = fs.StringLong("storage", "./feedback", "Storage directory path for the local backend")
		s3Bucket          = fs.StringLong("s3-bucket", "", "S3 bucket for feedback images")
		s3Prefix          = fs.StringLong("s3-prefix", "feedback", "Key prefix inside the S3 bucket")
		s3Region          = fs.StringLong("s3-region", "us-east-1", "S3 region")
		s3Endpoint        = fs.StringLong("s3-endpoint", "", "S3-compatible endpoint URL (optional, e.g. MinIO)")
		s3AccessKey       = fs.StringLong("s3-access-key", "", "S3 access key ID (optional, defaults to the AWS credential chain)")
		s3SecretKey       = fs.StringLong("s3-secret-key", "", "S3 secret access key")
		s3PathStyle       = fs.BoolLong("s3-path-style", "Use path-style S3 addressing")
		detectorType      = fs.StringLong("detector", "gemini", "Detector type: 'gemini' or 'ollama'")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		detectTimeout     = fs.DurationLong("detect-timeout", 60*time.Second, "Timeout for one detection request")
		maxFrameSide      = fs.IntLong("max-frame-side", 1024, "Frames larger than this on their longest side are scaled down (0 disables)")
		showNonRecyclable = fs.BoolLong("show-non-recyclable", "Also outline non-recyclable items in the overlay")
		categoriesPath    = fs.StringLong("categories", "", "YAML file with the category table (optional)")
		sessionTTL        = fs.DurationLong("session-ttl", 30*time.Minute, "Idle time after which a browser session is dropped")
		authUser          = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFile           = fs.StringLong("log-file", "", "Also write logs to this file, rotated (optional)")
		_                 = fs.StringLong("config", "", "YAML config file (optional)")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BLUEBIN"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogger(*logLevel, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := recycle.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize detector based on type
	var detector detection.Detector
	switch *detectorType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Warn("No Gemini API key set; detection requests will fail until --gemini-key or GEMINI_API_KEY is provided")
		}
		slog.Info("Initializing Gemini detector...", "model", *geminiModel)
		detector, err = detection.NewGemini(apiKey, *geminiModel, *detectTimeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama detector...", "url", *ollamaURL, "model", *ollamaModel)
		detector = detection.NewOllama(*ollamaURL, *ollamaModel, *detectTimeout)
	default:
		slog.Error("Invalid detector type", "type", *detectorType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer detector.Close()

	categories := detection.DefaultCategories()
	if *categoriesPath != "" {
		categories, err = detection.LoadCategories(*categoriesPath)
		if err != nil {
			slog.Error("Failed to load categories", "path", *categoriesPath, "error", err)
			os.Exit(1)
		}
	}

	// Initialize storage
	var store recycle.Storage
	switch *storageBackend {
	case "local":
		slog.Info("Initializing local storage...", "path", *storagePath)
		store, err = recycle.NewLocalStorage(*storagePath)
	case "s3":
		slog.Info("Initializing S3 storage...", "bucket", *s3Bucket, "prefix", *s3Prefix)
		store, err = recycle.NewS3Storage(recycle.S3Config{
			Bucket:          *s3Bucket,
			Prefix:          *s3Prefix,
			Region:          *s3Region,
			Endpoint:        *s3Endpoint,
			AccessKeyID:     *s3AccessKey,
			SecretAccessKey: *s3SecretKey,
			ForcePathStyle:  *s3PathStyle,
		})
	default:
		err = fmt.Errorf("invalid storage backend %q, valid: local or s3", *storageBackend)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	sessions := recycle.NewSessions()
	metrics := recycle.NewMetrics(sessions)

	// Initialize service
	pipeline := recycle.Pipeline{
		Encoder:    detection.NewFrameEncoder(*maxFrameSide),
		Normalizer: detection.NewNormalizer(categories),
		Renderer:   overlay.NewRenderer(*showNonRecyclable),
	}
	service := recycle.NewService(detector, pipeline, db, store, metrics)

	// Initialize server
	basicAuth := recycle.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := recycle.NewServer(service, sessions, metrics, basicAuth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pruneSessions(ctx, sessions, *sessionTTL)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if basicAuth.Username != "" || basicAuth.Password != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
}

// pruneSessions drops idle browser sessions until ctx is done
func pruneSessions(ctx context.Context, sessions *recycle.Sessions, ttl time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Prune(ttl); n > 0 {
				slog.Debug("Pruned idle sessions", "count", n, "remaining", sessions.Len())
			}
		}
	}
}
