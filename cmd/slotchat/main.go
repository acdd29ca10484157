// ABOUTME: Entry point for the slotchat server and its admin subcommands
// ABOUTME: serve, health, token (mint a dev JWT) and init (write a config file)

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/slotchat/internal/auth"
	"github.com/2389/slotchat/internal/config"
	"github.com/2389/slotchat/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _       _       _           _
 ___| | ___ | |_ ___| |__   __ _| |_
/ __| |/ _ \| __/ __| '_ \ / _' | __|
\__ \ | (_) | || (__| | | | (_| | |_
|___/_|\___/ \__\___|_| |_|\__,_|\__|
`

// getConfigPath returns the path to the config file.
// Priority: SLOTCHAT_CONFIG env var > XDG_CONFIG_HOME/slotchat/slotchat.yaml > ~/.config/slotchat/slotchat.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SLOTCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "slotchat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "slotchat", "slotchat.yaml")
}

// getDataPath returns the path to the slotchat data directory.
// Priority: XDG_DATA_HOME/slotchat > ~/.local/share/slotchat
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "slotchat")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: slotchat <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the server")
		fmt.Println("  init                        Create a new config file interactively")
		fmt.Println("  token --uid UID [--ttl D]   Mint a bearer token with the configured secret")
		fmt.Println("  health                      Check server health")
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
		err = runToken(os.Args[2:])
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
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.LLM.Model)
	green.Print("    ▶ ")
	fmt.Printf("Auth:      ")
	if cfg.Auth.Enabled() {
		cyan.Println("bearer token")
	} else {
		yellow.Println("disabled (uids are trusted)")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting slotchat",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(ctx, cfg, logger)
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

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
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

// tokenArgs holds the parsed flags of the token subcommand
type tokenArgs struct {
	uid string
	ttl time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value".
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: 24 * time.Hour}
	var ttlRaw string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--uid" || arg == "--ttl":
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--uid" {
				out.uid = args[i+1]
			} else {
				ttlRaw = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--uid="):
			out.uid = strings.TrimPrefix(arg, "--uid=")
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return out, fmt.Errorf("unknown flag: %s", arg)
		default:
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	out.uid = strings.TrimSpace(out.uid)
	if out.uid == "" {
		return out, fmt.Errorf("--uid flag is required")
	}
	if ttlRaw != "" {
		ttl, err := time.ParseDuration(ttlRaw)
		if err != nil {
			return out, fmt.Errorf("parsing --ttl: %w", err)
		}
		if ttl <= 0 {
			return out, fmt.Errorf("--ttl must be positive")
		}
		out.ttl = ttl
	}
	return out, nil
}

// runToken mints an HS256 token for local testing. Tokens for RS256
// deployments come from the identity provider instead.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured; tokens cannot be minted locally")
	}

	var opts []auth.Option
	if cfg.Auth.Issuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	if cfg.Auth.Audience != "" {
		opts = append(opts, auth.WithAudience(cfg.Auth.Audience))
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), opts...)
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(parsed.uid, parsed.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// initAnswers holds what runInit collected
type initAnswers struct {
	httpAddr  string
	grpcAddr  string
	driver    string
	dbPath    string
	dbURL     string
	jwtSecret string
	llmModel  string

	tailscaleEnabled bool
	tsHostname       string
	tsAuthKey        string
	tsFunnel         bool

	logLevel  string
	logFormat string
}

// renderConfig produces the YAML written by runInit
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# slotchat configuration\n")
	cfg.WriteString("# Generated by slotchat init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.httpAddr))
	if a.grpcAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", a.grpcAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", a.driver))
	if a.driver == "sqlite" {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", a.dbPath))
	} else {
		cfg.WriteString(fmt.Sprintf("  url: %q\n", a.dbURL))
	}
	cfg.WriteString("\n")

	if a.jwtSecret != "" {
		cfg.WriteString("auth:\n")
		cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.jwtSecret))
		cfg.WriteString("\n")
	}

	cfg.WriteString("llm:\n")
	cfg.WriteString("  api_key: \"${GROQ_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  model: %q\n", a.llmModel))
	cfg.WriteString("  timeout: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.tailscaleEnabled))
	if a.tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.tsHostname))
		if a.tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", a.tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", a.tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.logFormat))

	return cfg.String()
}

// generateSecret returns a random base64 secret long enough for HS256
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("slotchat configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "slotchat.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.httpAddr = prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	a.grpcAddr = prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	a.driver = prompt(reader, "Driver (sqlite/mongo/postgres)", "sqlite")
	switch a.driver {
	case "sqlite":
		a.dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	case "mongo", "postgres":
		a.dbURL = prompt(reader, "Connection URL", "")
	default:
		return fmt.Errorf("unknown driver %q", a.driver)
	}

	fmt.Println("\n--- Authentication ---")
	if isYes(prompt(reader, "Require bearer tokens?", "yes")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		a.jwtSecret = secret
	}

	fmt.Println("\n--- Model ---")
	a.llmModel = prompt(reader, "Model", config.DefaultLLMModel)

	fmt.Println("\n--- Tailscale Configuration ---")
	a.tailscaleEnabled = isYes(prompt(reader, "Enable Tailscale?", "no"))
	if a.tailscaleEnabled {
		a.tsHostname = prompt(reader, "Tailscale hostname", "slotchat")
		a.tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.logLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, "Log format (text/json)", "text")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// 0600: the file may hold the JWT secret
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(a.dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  export GROQ_API_KEY=...")
	fmt.Println("  slotchat serve")
	if a.jwtSecret != "" {
		fmt.Println("\nTo get a token for testing:")
		fmt.Println("  slotchat token --uid you")
	}

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
