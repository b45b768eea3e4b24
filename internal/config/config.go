package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

type AxiomConfig struct {
	// Hosts is the ordered list of candidate base URLs for the Axiom API.
	// A host is chosen at random for each of Step1/Step2, per the source
	// service's shuffle-then-pick-one behavior.
	Hosts []string `json:"hosts"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	DBUrl       string `json:"db_url"`
	LogLevel    string `json:"log_level"` // e.g. "info", "debug", "warn", "error"
	FrontendURL string `json:"frontend_url"`
	// Environment gates the Secure flag on cookies: "development" (case
	// insensitive) turns it off so local HTTP testing works.
	Environment string `json:"environment"`
	// SessionTTLHours is the browser session lifetime; default 24.
	SessionTTLHours int `json:"session_ttl_hours"`
	// OAuthStateTTLSeconds is the CSRF/PKCE state record lifetime; default 600.
	OAuthStateTTLSeconds int `json:"oauth_state_ttl_seconds"`
}

type AppConfig struct {
	Google GoogleConfig `json:"google"`
	Axiom  AxiomConfig  `json:"axiom"`
	Server ServerConfig `json:"server"`
}

// IsDevelopment reports whether cookies should drop the Secure attribute.
func (c *AppConfig) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Environment, "development")
}

// SessionTTL returns the configured session lifetime, defaulting to 24h.
func (c *AppConfig) SessionTTL() int {
	if c.Server.SessionTTLHours <= 0 {
		return 24
	}
	return c.Server.SessionTTLHours
}

// OAuthStateTTL returns the configured OAuth state TTL in seconds, defaulting to 600.
func (c *AppConfig) OAuthStateTTL() int {
	if c.Server.OAuthStateTTLSeconds <= 0 {
		return 600
	}
	return c.Server.OAuthStateTTLSeconds
}

func LoadConfig(path string) (*AppConfig, error) {
	fmt.Fprintf(os.Stderr, "[DEBUG] Attempting to load config from: %s\n", path)

	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] Failed to open %s: %v\n", path, err)
			return nil, err
		}
		defer f.Close()
		dec := json.NewDecoder(f)
		var cfg AppConfig
		if err := dec.Decode(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] Failed to decode config JSON: %v\n", err)
			return nil, err
		}
		applyDefaults(&cfg)
		fmt.Fprintf(os.Stderr, "[DEBUG] Config loaded successfully from %s\n", path)
		return &cfg, nil
	}

	fmt.Fprintf(os.Stderr, "[WARN] Config file not found at %s, attempting to load from environment variables\n", path)
	cfg := AppConfig{
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URI"),
		},
		Axiom: AxiomConfig{
			Hosts: splitNonEmpty(os.Getenv("AXIOM_HOSTS"), ","),
		},
		Server: ServerConfig{
			Port:                 os.Getenv("SERVER_PORT"),
			DBUrl:                os.Getenv("DATABASE_URL"),
			LogLevel:             os.Getenv("LOG_LEVEL"),
			FrontendURL:          os.Getenv("FRONTEND_URL"),
			Environment:          os.Getenv("ENVIRONMENT"),
			SessionTTLHours:      atoiOr(os.Getenv("SESSION_TTL_HOURS"), 0),
			OAuthStateTTLSeconds: atoiOr(os.Getenv("OAUTH_STATE_TTL_SECONDS"), 0),
		},
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if len(cfg.Axiom.Hosts) == 0 {
		cfg.Axiom.Hosts = []string{
			"https://api10.axiom.trade",
			"https://api6.axiom.trade",
			"https://api.axiom.trade",
		}
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
