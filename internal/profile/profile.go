package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory (sessions, auth file, revival db)
	Data string
	// Driver selects the revival memory backing ("memory" or "sqlite")
	Driver string
	// DSN points to the revival sqlite database when Driver is "sqlite"
	DSN string
	// Version is the current version of server
	Version string

	// LLM configuration
	LLMProvider string // EVA_LLM_PROVIDER (openai or any OpenAI-compatible endpoint)
	LLMAPIKey   string // EVA_LLM_API_KEY
	LLMBaseURL  string // EVA_LLM_BASE_URL
	LLMModel    string // EVA_LLM_MODEL (default: gpt-4o-mini)

	// External long-term memory service
	MemoryEnabled bool   // EVA_MEMORY_ENABLED
	MemoryAPIKey  string // EVA_MEMORY_API_KEY
	MemoryBaseURL string // EVA_MEMORY_BASE_URL

	// Tool backends
	MailHost         string // EVA_MAIL_HOST (SMTP relay)
	MailFrom         string // EVA_MAIL_FROM
	SearchAPIKey     string // EVA_SEARCH_API_KEY
	SearchBaseURL    string // EVA_SEARCH_BASE_URL
	ImageBaseURL     string // EVA_IMAGE_BASE_URL
	ImageAPIKey      string // EVA_IMAGE_API_KEY
	MusicBaseURL     string // EVA_MUSIC_BASE_URL
	MusicToken       string // EVA_MUSIC_TOKEN (OAuth access token)
	MusicRefresh     string // EVA_MUSIC_REFRESH_TOKEN
	FileSandboxRoot  string // EVA_FILE_SANDBOX_ROOT (defaults to {Data}/files)
	MessagingWebhook string // EVA_MESSAGING_WEBHOOK
}

// IsMemoryEnabled returns true when the external memory service is configured.
func (p *Profile) IsMemoryEnabled() bool {
	return p.MemoryEnabled && p.MemoryAPIKey != ""
}

// IsDev returns true when running in dev or demo mode.
func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv fills the profile from EVA_* environment variables.
// Values already set (e.g. from flags) win over the environment.
func (p *Profile) FromEnv() {
	if p.Mode == "" {
		p.Mode = getEnvOrDefault("EVA_MODE", "demo")
	}
	if p.Addr == "" {
		p.Addr = os.Getenv("EVA_ADDR")
	}
	if p.Port == 0 {
		if port, err := strconv.Atoi(os.Getenv("EVA_PORT")); err == nil {
			p.Port = port
		}
	}
	if p.Data == "" {
		p.Data = os.Getenv("EVA_DATA")
	}
	if p.Driver == "" {
		p.Driver = getEnvOrDefault("EVA_DRIVER", "memory")
	}
	if p.DSN == "" {
		p.DSN = os.Getenv("EVA_DSN")
	}

	p.LLMProvider = getEnvOrDefault("EVA_LLM_PROVIDER", "openai")
	p.LLMAPIKey = os.Getenv("EVA_LLM_API_KEY")
	p.LLMBaseURL = getEnvOrDefault("EVA_LLM_BASE_URL", "https://api.openai.com/v1")
	p.LLMModel = getEnvOrDefault("EVA_LLM_MODEL", "gpt-4o-mini")

	p.MemoryEnabled = os.Getenv("EVA_MEMORY_ENABLED") == "true"
	p.MemoryAPIKey = os.Getenv("EVA_MEMORY_API_KEY")
	p.MemoryBaseURL = getEnvOrDefault("EVA_MEMORY_BASE_URL", "https://api.getzep.com")

	p.MailHost = os.Getenv("EVA_MAIL_HOST")
	p.MailFrom = getEnvOrDefault("EVA_MAIL_FROM", "eva@localhost")
	p.SearchAPIKey = os.Getenv("EVA_SEARCH_API_KEY")
	p.SearchBaseURL = getEnvOrDefault("EVA_SEARCH_BASE_URL", "https://api.tavily.com")
	p.ImageBaseURL = getEnvOrDefault("EVA_IMAGE_BASE_URL", "https://api.openai.com/v1")
	p.ImageAPIKey = os.Getenv("EVA_IMAGE_API_KEY")
	p.MusicBaseURL = getEnvOrDefault("EVA_MUSIC_BASE_URL", "https://api.spotify.com/v1")
	p.MusicToken = os.Getenv("EVA_MUSIC_TOKEN")
	p.MusicRefresh = os.Getenv("EVA_MUSIC_REFRESH_TOKEN")
	p.FileSandboxRoot = os.Getenv("EVA_FILE_SANDBOX_ROOT")
	p.MessagingWebhook = os.Getenv("EVA_MESSAGING_WEBHOOK")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and prepares the data directory.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		if p.Mode == "prod" {
			p.Data = "/var/opt/eva"
		} else {
			p.Data = "./data"
		}
	}
	if _, err := os.Stat(p.Data); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver != "memory" && p.Driver != "sqlite" {
		return errors.Errorf("unknown revival driver %q: only 'memory' and 'sqlite' are supported", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("eva_%s.db", p.Mode))
	}
	if p.FileSandboxRoot == "" {
		p.FileSandboxRoot = filepath.Join(dataDir, "files")
	}
	if p.Version == "" {
		p.Version = "0.1.0"
	}

	return nil
}
