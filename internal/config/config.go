package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json, text
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int    `yaml:"max_upload_bytes"`
	RequestTimeout int    `yaml:"request_timeout_ms"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Device      string           `yaml:"device"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Journal     JournalConfig    `yaml:"journal"`
	Preprocess  PreprocessConfig `yaml:"preprocess"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	Subject        string   `yaml:"subject"`
	QueueGroup     string   `yaml:"queue_group"`
}

// JournalConfig controls the operational run journal. It never stores
// transcripts or responses.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type PreprocessConfig struct {
	NoiseReduction         bool    `yaml:"noise_reduction"`
	NormalizeAudio         bool    `yaml:"normalize_audio"`
	RemoveSilence          bool    `yaml:"remove_silence"`
	SampleRate             int     `yaml:"sample_rate"`
	NoiseReductionStrength float64 `yaml:"noise_reduction_strength"`
	DecoderCommand         string  `yaml:"decoder_command"`
}

type STTConfig struct {
	Mode             string `yaml:"mode"` // mock, openai, exec
	Command          string `yaml:"command"`
	Model            string `yaml:"model"`
	ModelPath        string `yaml:"model_path"`
	Language         string `yaml:"language"`
	KoreanOptimize   bool   `yaml:"korean_optimization"`
	UsePreprocessing bool   `yaml:"use_preprocessing"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gpt, gemini, local, exec, mock
	Command     string  `yaml:"command"`
	OpenAIKey   string  `yaml:"openai_api_key"`
	GeminiKey   string  `yaml:"gemini_api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Endpoint    string  `yaml:"endpoint"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // google, openai, exec, mock
	Command    string `yaml:"command"`
	Language   string `yaml:"language"`
	Voice      string `yaml:"voice"`
	Model      string `yaml:"model"`
	Slow       bool   `yaml:"slow"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxChars   int    `yaml:"max_chars"`
	SampleRate int    `yaml:"sample_rate"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voice",
		Environment: "development",
		Device:      "auto",
		HTTP: HTTPConfig{
			Enabled:        true,
			Bind:           "0.0.0.0",
			Port:           5000,
			MaxUploadBytes: 32 << 20,
			RequestTimeout: 120000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			Subject:        "voice.process.request",
			QueueGroup:     "loqa-voice",
		},
		Journal: JournalConfig{
			Path:          "./data/loqa-voice-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Preprocess: PreprocessConfig{
			NoiseReduction:         true,
			NormalizeAudio:         true,
			RemoveSilence:          true,
			SampleRate:             16000,
			NoiseReductionStrength: 0.1,
			DecoderCommand:         "ffmpeg -hide_banner -loglevel error",
		},
		STT: STTConfig{
			Mode:             "mock",
			Model:            "small",
			Language:         "ko",
			KoreanOptimize:   true,
			UsePreprocessing: true,
		},
		LLM: LLMConfig{
			Provider:    "gemini",
			Endpoint:    "http://localhost:11434",
			MaxTokens:   512,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Mode:       "google",
			Language:   "ko",
			MaxChars:   500,
			SampleRate: 22050,
			TimeoutMS:  45000,
		},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyCredentials(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.Device, "LOQA_DEVICE")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideInt(&cfg.HTTP.MaxUploadBytes, "LOQA_HTTP_MAX_UPLOAD_BYTES")
	overrideInt(&cfg.HTTP.RequestTimeout, "LOQA_HTTP_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.Subject, "LOQA_BUS_SUBJECT")
	overrideString(&cfg.Bus.QueueGroup, "LOQA_BUS_QUEUE_GROUP")
	overrideString(&cfg.Journal.Path, "LOQA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxRuns, "LOQA_JOURNAL_MAX_RUNS")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_JOURNAL_VACUUM_ON_START")
	overrideBool(&cfg.Preprocess.NoiseReduction, "LOQA_PREPROCESS_NOISE_REDUCTION")
	overrideBool(&cfg.Preprocess.NormalizeAudio, "LOQA_PREPROCESS_NORMALIZE_AUDIO")
	overrideBool(&cfg.Preprocess.RemoveSilence, "LOQA_PREPROCESS_REMOVE_SILENCE")
	overrideInt(&cfg.Preprocess.SampleRate, "LOQA_PREPROCESS_SAMPLE_RATE")
	overrideFloat(&cfg.Preprocess.NoiseReductionStrength, "LOQA_PREPROCESS_NOISE_REDUCTION_STRENGTH")
	overrideString(&cfg.Preprocess.DecoderCommand, "LOQA_PREPROCESS_DECODER_COMMAND")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideBool(&cfg.STT.KoreanOptimize, "LOQA_STT_KOREAN_OPTIMIZATION")
	overrideBool(&cfg.STT.UsePreprocessing, "LOQA_STT_USE_PREPROCESSING")
	overrideString(&cfg.STT.BaseURL, "LOQA_STT_BASE_URL")
	overrideString(&cfg.LLM.Provider, "LLM_MODEL")
	overrideString(&cfg.LLM.Provider, "LOQA_LLM_PROVIDER")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "LOQA_LLM_MODEL")
	overrideString(&cfg.LLM.BaseURL, "LOQA_LLM_BASE_URL")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LOQA_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Language, "LOQA_TTS_LANGUAGE")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideBool(&cfg.TTS.Slow, "LOQA_TTS_SLOW")
	overrideString(&cfg.TTS.BaseURL, "LOQA_TTS_BASE_URL")
	overrideInt(&cfg.TTS.MaxChars, "LOQA_TTS_MAX_CHARS")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
}

// applyCredentials fills provider keys from the conventional variables when
// the config file leaves them empty.
func applyCredentials(cfg *Config) {
	fallbackString(&cfg.LLM.OpenAIKey, "OPENAI_API_KEY")
	fallbackString(&cfg.LLM.GeminiKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	fallbackString(&cfg.STT.APIKey, "OPENAI_API_KEY")
	if cfg.TTS.Mode == "openai" {
		fallbackString(&cfg.TTS.APIKey, "OPENAI_API_KEY")
	}
}

func fallbackString(target *string, envKeys ...string) {
	if strings.TrimSpace(*target) != "" {
		return
	}
	for _, key := range envKeys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
			return
		}
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadBytes < 0 {
		return errors.New("http.max_upload_bytes must be >= 0")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty")
		}
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Preprocess.SampleRate <= 0 {
		return errors.New("preprocess.sample_rate must be positive")
	}
	if s := cfg.Preprocess.NoiseReductionStrength; s < 0 || s > 1 {
		return errors.New("preprocess.noise_reduction_strength must be within [0,1]")
	}
	switch cfg.STT.Mode {
	case "mock", "openai":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of mock|openai|exec")
	}
	if strings.EqualFold(cfg.LLM.Provider, "exec") && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when provider=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "google", "openai", "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of google|openai|exec|mock")
	}
	if cfg.TTS.MaxChars <= 0 {
		return errors.New("tts.max_chars must be positive")
	}
	return nil
}
