package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NLU modes.
const (
	NLUModeMultiAgent = "multi_agent"
	NLUModeUnified    = "unified"
)

// Profile is configuration to start main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol)
	LLMProvider          string  // deepseek, openai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey            string  // LLM API key
	LLMBaseURL           string  // optional, has a default per provider
	LLMModel             string  // reply model
	LLMTimeout           int     // request timeout in seconds (default: 60)
	LLMRequestsPerSecond float64 // client-side rate limit, zero disables it
	IntentModel          string  // classifier model, defaults to LLMModel

	// Orchestration engine
	NLUMode            string   // multi_agent | unified
	HandlerTimeout     int      // per-handler timeout in seconds (default: 30)
	MaxParallel        int      // concurrent handlers in parallel plans (default: 4)
	IntentPatternsFile string   // optional YAML file overriding intent patterns
	AlertRules         []string // CEL expressions OR-ed with the built-in alert triggers

	// Delivery and integrations
	TelegramBotToken      string
	TelegramWebhookSecret string
	NATSURL               string
	NATSSubject           string
	JWTSecret             string

	// Other configurations
	Mode    string
	DSN     string
	Driver  string
	Version string
	Addr    string
	Data    string
	Port    int
}

// Provider default models, used when the model is not set explicitly.
var llmProviderDefaults = map[string]string{
	"deepseek":    "deepseek-chat",
	"openai":      "gpt-4o-mini",
	"siliconflow": "Qwen/Qwen2.5-72B-Instruct",
	"dashscope":   "qwen-max-latest",
	"openrouter":  "deepseek/deepseek-chat",
	"ollama":      "llama3.1",
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from CARESENSE_* environment variables.
// Fields already set are only overridden when the variable is present.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("CARESENSE_LLM_PROVIDER", orDefault(p.LLMProvider, "deepseek"))
	p.LLMAPIKey = getEnvOrDefault("CARESENSE_LLM_API_KEY", p.LLMAPIKey)
	p.LLMBaseURL = getEnvOrDefault("CARESENSE_LLM_BASE_URL", p.LLMBaseURL)
	p.LLMModel = getEnvOrDefault("CARESENSE_LLM_MODEL", p.LLMModel)
	p.LLMTimeout = getEnvOrDefaultInt("CARESENSE_LLM_TIMEOUT_SECONDS", orDefaultInt(p.LLMTimeout, 60))
	p.LLMRequestsPerSecond = getEnvOrDefaultFloat("CARESENSE_LLM_RPS", p.LLMRequestsPerSecond)
	p.IntentModel = getEnvOrDefault("CARESENSE_INTENT_MODEL", p.IntentModel)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok && p.LLMBaseURL == "" {
		slog.Warn("Unknown LLM provider, using default: deepseek", "provider", p.LLMProvider)
		p.LLMProvider = "deepseek"
	}
	if p.LLMModel == "" {
		p.LLMModel = llmProviderDefaults[p.LLMProvider]
	}
	if p.IntentModel == "" {
		p.IntentModel = p.LLMModel
	}

	p.NLUMode = getEnvOrDefault("CARESENSE_NLU_MODE", orDefault(p.NLUMode, NLUModeMultiAgent))
	p.HandlerTimeout = getEnvOrDefaultInt("CARESENSE_HANDLER_TIMEOUT_SECONDS", orDefaultInt(p.HandlerTimeout, 30))
	p.MaxParallel = getEnvOrDefaultInt("CARESENSE_MAX_PARALLEL", orDefaultInt(p.MaxParallel, 4))
	p.IntentPatternsFile = getEnvOrDefault("CARESENSE_INTENT_PATTERNS", p.IntentPatternsFile)
	if rules := os.Getenv("CARESENSE_ALERT_RULES"); rules != "" {
		p.AlertRules = splitRules(rules)
	}

	p.TelegramBotToken = getEnvOrDefault("CARESENSE_TELEGRAM_BOT_TOKEN", p.TelegramBotToken)
	p.TelegramWebhookSecret = getEnvOrDefault("CARESENSE_TELEGRAM_WEBHOOK_SECRET", p.TelegramWebhookSecret)
	p.NATSURL = getEnvOrDefault("CARESENSE_NATS_URL", p.NATSURL)
	p.NATSSubject = getEnvOrDefault("CARESENSE_NATS_SUBJECT", orDefault(p.NATSSubject, "caresense.alerts"))
	p.JWTSecret = getEnvOrDefault("CARESENSE_JWT_SECRET", p.JWTSecret)
}

// splitRules splits a ';' separated rule list, dropping blanks.
func splitRules(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ";") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
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

// Validate normalises the profile and fills derived defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "caresense")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/caresense"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "":
		p.Driver = "sqlite"
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("caresense_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}

	if p.NLUMode != NLUModeMultiAgent && p.NLUMode != NLUModeUnified {
		slog.Warn("Unknown NLU mode, using multi_agent", "mode", p.NLUMode)
		p.NLUMode = NLUModeMultiAgent
	}
	p.HandlerTimeout = orDefaultInt(p.HandlerTimeout, 30)
	p.MaxParallel = orDefaultInt(p.MaxParallel, 4)
	p.LLMTimeout = orDefaultInt(p.LLMTimeout, 60)
	return nil
}
