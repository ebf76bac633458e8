// ABOUTME: Entry point for the funnel-gateway dispatch server
// ABOUTME: Fronts the user, membership, content, and powerplay stores behind one endpoint

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/funnelworks/funnel-gateway/internal/auth"
	"github.com/funnelworks/funnel-gateway/internal/config"
	"github.com/funnelworks/funnel-gateway/internal/gateway"
	"github.com/funnelworks/funnel-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __                        _
 / _|_   _ _ __  _ __   ___| |       __ _  __ _| |_ _____      ____ _ _   _
| |_| | | | '_ \| '_ \ / _ \ |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
|  _| |_| | | | | | | |  __/ |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|  \__,_|_| |_|_| |_|\___|_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                    |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: FUNNEL_CONFIG env var > XDG_CONFIG_HOME/funnel/gateway.yaml > ~/.config/funnel/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FUNNEL_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "funnel", "gateway.yaml")
}

// getDataPath returns the path to the funnel data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "funnel")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: funnel-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the gateway server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  token --sub NAME       Generate a bearer token for a caller")
		fmt.Println("  stats                  Summarize the request audit log")
		fmt.Println("  health                 Check gateway health")
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
	case "token":
		err = runToken()
	case "stats":
		err = runStats(ctx)
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Upstreams.UserURL)
	green.Print("    ▶ ")
	fmt.Printf("Membership: %s\n", cfg.Upstreams.MembershipURL)
	green.Print("    ▶ ")
	fmt.Printf("GPT:        %s\n", cfg.Upstreams.GPTURL)
	green.Print("    ▶ ")
	fmt.Printf("Powerplay:  %s\n", cfg.Upstreams.PowerplayURL)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ▶ auth disabled")
	}
	fmt.Println()

	logger.Info("starting funnel-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
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
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
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

// runToken mints a bearer token against the configured secret so callers can
// authenticate when auth is enabled.
func runToken() error {
	var subject string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured; auth is disabled")
	}

	tokenTTL := 30 * 24 * time.Hour
	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(tokenTTL).UTC().Format("Jan 02, 2006"))
	return nil
}

// runStats summarizes the request audit log: aggregate counts over a window,
// plus the newest entries for one caller when --email is given.
func runStats(ctx context.Context) error {
	var email string
	since := 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--email":
			if i+1 >= len(args) {
				return fmt.Errorf("--email requires a value")
			}
			email = args[i+1]
			i++
		case strings.HasPrefix(arg, "--email="):
			email = strings.TrimPrefix(arg, "--email=")
		case arg == "--since":
			if i+1 >= len(args) {
				return fmt.Errorf("--since requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			since = d
			i++
		case strings.HasPrefix(arg, "--since="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--since="))
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			since = d
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database path not configured; audit log is disabled")
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit, err := store.NewAuditLog(cfg.Database.Path, quiet)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer audit.Close()

	stats, err := audit.Stats(ctx, time.Now().Add(-since))
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}

	fmt.Printf("last %s: %d requests, %d cache hits, %d generations, %d failures\n",
		since, stats.RequestCount, stats.CacheHits, stats.Generations, stats.Failures)

	if email == "" {
		return nil
	}

	entries, err := audit.Recent(ctx, email, 20)
	if err != nil {
		return fmt.Errorf("reading recent entries: %w", err)
	}
	if len(entries) == 0 {
		fmt.Printf("no entries for %s\n", email)
		return nil
	}

	fmt.Println()
	for _, e := range entries {
		fmt.Printf("%s  %-16s %3d  cached=%-5t webhook=%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Mode, e.Status, e.CacheHit, e.WebhookStatus)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("funnel-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "audit.db")

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

	fmt.Println("\n--- Upstream Stores ---")
	userURL := prompt(reader, "User store URL", "https://api.example.com/user")
	membershipURL := prompt(reader, "Membership store URL", "https://api.example.com/membership")
	gptURL := prompt(reader, "GPT store URL", "https://api.example.com/gpt")
	powerplayURL := prompt(reader, "Powerplay store URL", "https://api.example.com/powerplay")
	timeout := prompt(reader, "Upstream timeout", "30s")

	fmt.Println("\n--- Audit Log ---")
	dbPath := prompt(reader, "SQLite audit log path (empty to disable)", defaultDbPath)

	fmt.Println("\n--- Auth ---")
	jwtSecret := prompt(reader, "JWT secret (empty to disable auth)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# funnel-gateway configuration\n")
	cfg.WriteString("# Generated by funnel-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("upstreams:\n")
	cfg.WriteString(fmt.Sprintf("  user_url: \"%s\"\n", userURL))
	cfg.WriteString(fmt.Sprintf("  membership_url: \"%s\"\n", membershipURL))
	cfg.WriteString(fmt.Sprintf("  gpt_url: \"%s\"\n", gptURL))
	cfg.WriteString(fmt.Sprintf("  powerplay_url: \"%s\"\n", powerplayURL))
	cfg.WriteString(fmt.Sprintf("  timeout: \"%s\"\n", timeout))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  rps: 0.5\n")
	cfg.WriteString("  burst: 3\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  funnel-gateway serve\n")

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
