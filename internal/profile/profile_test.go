package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfileDefaults(t *testing.T) {
	clearEvaEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"Mode default", "demo", profile.Mode},
		{"Driver default", "memory", profile.Driver},
		{"LLMProvider default", "openai", profile.LLMProvider},
		{"LLMBaseURL default", "https://api.openai.com/v1", profile.LLMBaseURL},
		{"LLMModel default", "gpt-4o-mini", profile.LLMModel},
		{"MemoryBaseURL default", "https://api.getzep.com", profile.MemoryBaseURL},
		{"MailFrom default", "eva@localhost", profile.MailFrom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.MemoryEnabled {
		t.Error("MemoryEnabled should be false by default")
	}
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "EVA_LLM_API_KEY",
			envVar:   "EVA_LLM_API_KEY",
			envValue: "test-key-123",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-key-123",
		},
		{
			name:     "EVA_LLM_BASE_URL",
			envVar:   "EVA_LLM_BASE_URL",
			envValue: "https://custom.proxy/v1",
			field:    func(p *Profile) string { return p.LLMBaseURL },
			expected: "https://custom.proxy/v1",
		},
		{
			name:     "EVA_LLM_MODEL",
			envVar:   "EVA_LLM_MODEL",
			envValue: "gpt-4",
			field:    func(p *Profile) string { return p.LLMModel },
			expected: "gpt-4",
		},
		{
			name:     "EVA_MEMORY_API_KEY",
			envVar:   "EVA_MEMORY_API_KEY",
			envValue: "zep-key",
			field:    func(p *Profile) string { return p.MemoryAPIKey },
			expected: "zep-key",
		},
		{
			name:     "EVA_DRIVER",
			envVar:   "EVA_DRIVER",
			envValue: "sqlite",
			field:    func(p *Profile) string { return p.Driver },
			expected: "sqlite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEvaEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestIsMemoryEnabled(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(*Profile)
		expectedResult bool
	}{
		{
			name:           "disabled by default",
			setup:          func(p *Profile) {},
			expectedResult: false,
		},
		{
			name: "enabled without key is not enabled",
			setup: func(p *Profile) {
				p.MemoryEnabled = true
			},
			expectedResult: false,
		},
		{
			name: "enabled with key",
			setup: func(p *Profile) {
				p.MemoryEnabled = true
				p.MemoryAPIKey = "key"
			},
			expectedResult: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &Profile{}
			tt.setup(profile)
			if result := profile.IsMemoryEnabled(); result != tt.expectedResult {
				t.Errorf("IsMemoryEnabled(): expected %v, got %v", tt.expectedResult, result)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	profile := &Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: "sqlite",
	}
	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if profile.DSN != filepath.Join(dir, "eva_dev.db") {
		t.Errorf("expected sqlite DSN under data dir, got %q", profile.DSN)
	}
	if profile.FileSandboxRoot != filepath.Join(dir, "files") {
		t.Errorf("expected file sandbox under data dir, got %q", profile.FileSandboxRoot)
	}

	profile = &Profile{Mode: "dev", Data: dir, Driver: "bolt"}
	if err := profile.Validate(); err == nil {
		t.Error("Validate() should reject unknown revival driver")
	}
}

func clearEvaEnvVars() {
	evaEnvVars := []string{
		"EVA_MODE",
		"EVA_ADDR",
		"EVA_PORT",
		"EVA_DATA",
		"EVA_DRIVER",
		"EVA_DSN",
		"EVA_LLM_PROVIDER",
		"EVA_LLM_API_KEY",
		"EVA_LLM_BASE_URL",
		"EVA_LLM_MODEL",
		"EVA_MEMORY_ENABLED",
		"EVA_MEMORY_API_KEY",
		"EVA_MEMORY_BASE_URL",
		"EVA_MAIL_HOST",
		"EVA_MAIL_FROM",
		"EVA_SEARCH_API_KEY",
		"EVA_SEARCH_BASE_URL",
		"EVA_IMAGE_BASE_URL",
		"EVA_IMAGE_API_KEY",
		"EVA_MUSIC_BASE_URL",
		"EVA_MUSIC_TOKEN",
		"EVA_MUSIC_REFRESH_TOKEN",
		"EVA_FILE_SANDBOX_ROOT",
	}
	for _, envVar := range evaEnvVars {
		os.Unsetenv(envVar)
	}
}
