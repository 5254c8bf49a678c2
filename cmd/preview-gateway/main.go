// ABOUTME: Entry point for the preview-gateway server
// ABOUTME: Serves room previews over HTTP backed by the homeserver event log

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/pangea-chat/preview-gateway/internal/config"
	"github.com/pangea-chat/preview-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _                          _
 _ __  _ __ _____   _(_) _____      __      __ _ __ _| |_ _____      ____ _ _   _
| '_ \| '__/ _ \ \ / / |/ _ \ \ /\ / /____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | | |  __/\ V /| |  __/\ V  V /_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
| .__/|_|  \___| \_/ |_|\___| \_/\_/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
|_|                                        |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: PREVIEW_CONFIG env var > XDG_CONFIG_HOME/preview-gateway/gateway.yaml > ~/.config/preview-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PREVIEW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "preview-gateway", "gateway.yaml")
}

// getDataPath returns the path to the preview-gateway data directory.
// Priority: XDG_DATA_HOME/preview-gateway > ~/.local/share/preview-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "preview-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: preview-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the preview server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Tracked:  %s\n", strings.Join(cfg.Preview.TrackedEventTypes, ", "))

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Sync:     %s\n", cfg.Matrix.Homeserver)
	}

	fmt.Println()

	logger.Info("starting preview-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tracked_event_types", cfg.Preview.TrackedEventTypes,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("preview-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "events.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Preview Configuration ---")
	trackedTypes := prompt(reader, "Tracked event types (comma separated)",
		"pangea.activity_plan,pangea.activity_roles")

	fmt.Println("\n--- Rate Limit Configuration ---")
	burstWindow := prompt(reader, "Burst window", "60s")
	requestsPerBurst := prompt(reader, "Requests per burst", "10")

	fmt.Println("\n--- Matrix Sync Configuration ---")
	enableSync := prompt(reader, "Enable Matrix sync feed?", "no")
	syncEnabled := strings.ToLower(enableSync) == "yes" || strings.ToLower(enableSync) == "y"

	var homeserver, syncUserID string
	if syncEnabled {
		homeserver = prompt(reader, "Homeserver URL", "https://matrix.example.com")
		syncUserID = prompt(reader, "Sync user ID", "@preview:example.com")
	}

	var sb strings.Builder
	sb.WriteString("server:\n")
	sb.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))
	sb.WriteString("database:\n")
	sb.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))
	sb.WriteString("auth:\n")
	sb.WriteString("  jwt_secret: \"${PREVIEW_JWT_SECRET}\"\n\n")
	sb.WriteString("preview:\n")
	sb.WriteString("  tracked_event_types:\n")
	for _, eventType := range strings.Split(trackedTypes, ",") {
		if eventType = strings.TrimSpace(eventType); eventType != "" {
			sb.WriteString(fmt.Sprintf("    - %q\n", eventType))
		}
	}
	sb.WriteString("\nratelimit:\n")
	sb.WriteString(fmt.Sprintf("  burst_window: %q\n", burstWindow))
	sb.WriteString(fmt.Sprintf("  requests_per_burst: %s\n\n", requestsPerBurst))
	sb.WriteString("matrix:\n")
	sb.WriteString(fmt.Sprintf("  enabled: %t\n", syncEnabled))
	if syncEnabled {
		sb.WriteString(fmt.Sprintf("  homeserver: %q\n", homeserver))
		sb.WriteString(fmt.Sprintf("  user_id: %q\n", syncUserID))
		sb.WriteString("  access_token: \"${MATRIX_ACCESS_TOKEN}\"\n")
	}
	sb.WriteString("\nlogging:\n")
	sb.WriteString("  level: \"info\"\n")
	sb.WriteString("  format: \"text\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nWrote %s\n", outputFile)
	fmt.Println("Set PREVIEW_JWT_SECRET before starting the server.")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
