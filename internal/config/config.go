package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StatusBind   string `yaml:"status_bind"`
}

type OutputConfig struct {
	Directory     string `yaml:"directory"`
	Format        string `yaml:"format"` // wav, m4b
	FFmpegCommand string `yaml:"ffmpeg_command"`
	Bitrate       string `yaml:"bitrate"`
}

type TextConfig struct {
	MaxUnitLength   int `yaml:"max_unit_length"`
	MinChapterChars int `yaml:"min_chapter_chars"`
}

type VoiceConfig struct {
	Expression string `yaml:"expression"`
	VoicesFile string `yaml:"voices_file"`
}

type EngineConfig struct {
	Name       string  `yaml:"name"` // mock, kokoro, xtts
	Command    string  `yaml:"command"`
	ModelPath  string  `yaml:"model_path"`
	Language   string  `yaml:"language"`
	SampleRate int     `yaml:"sample_rate"`
	Speed      float64 `yaml:"speed"`
}

type SynthesisConfig struct {
	Concurrency      int `yaml:"concurrency"`
	MaxRetries       int `yaml:"max_retries"`
	RetryBaseMS      int `yaml:"retry_base_ms"`
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
	SilenceCharsPerS int `yaml:"silence_chars_per_second"`
}

type PacingConfig struct {
	ParagraphPauseMS int `yaml:"paragraph_pause_ms"`
	ChapterPauseMS   int `yaml:"chapter_pause_ms"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	MaxDays int    `yaml:"max_age_days"`
}

type Config struct {
	Output    OutputConfig    `yaml:"output"`
	Text      TextConfig      `yaml:"text"`
	Voice     VoiceConfig     `yaml:"voice"`
	Engine    EngineConfig    `yaml:"engine"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Pacing    PacingConfig    `yaml:"pacing"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Output: OutputConfig{
			Directory:     "./audiobooks",
			Format:        "m4b",
			FFmpegCommand: "ffmpeg",
			Bitrate:       "64k",
		},
		Text: TextConfig{
			MaxUnitLength:   400,
			MinChapterChars: 50,
		},
		Voice: VoiceConfig{
			Expression: "af_heart",
		},
		Engine: EngineConfig{
			Name:       "kokoro",
			Command:    "fabler-kokoro",
			Language:   "en-us",
			SampleRate: 24000,
			Speed:      1.0,
		},
		Synthesis: SynthesisConfig{
			Concurrency:      2,
			MaxRetries:       3,
			RetryBaseMS:      500,
			RequestTimeoutMS: 120000,
			SilenceCharsPerS: 15,
		},
		Pacing: PacingConfig{
			ParagraphPauseMS: 600,
			ChapterPauseMS:   1500,
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    "./data/fabler-cache.db",
			MaxDays: 30,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
	}
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Output.Directory, "FABLER_OUTPUT_DIRECTORY")
	overrideString(&cfg.Output.Format, "FABLER_OUTPUT_FORMAT")
	overrideString(&cfg.Output.FFmpegCommand, "FABLER_OUTPUT_FFMPEG_COMMAND")
	overrideString(&cfg.Output.Bitrate, "FABLER_OUTPUT_BITRATE")
	overrideInt(&cfg.Text.MaxUnitLength, "FABLER_TEXT_MAX_UNIT_LENGTH")
	overrideInt(&cfg.Text.MinChapterChars, "FABLER_TEXT_MIN_CHAPTER_CHARS")
	overrideString(&cfg.Voice.Expression, "FABLER_VOICE_EXPRESSION")
	overrideString(&cfg.Voice.VoicesFile, "FABLER_VOICE_VOICES_FILE")
	overrideString(&cfg.Engine.Name, "FABLER_ENGINE_NAME")
	overrideString(&cfg.Engine.Command, "FABLER_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "FABLER_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "FABLER_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.SampleRate, "FABLER_ENGINE_SAMPLE_RATE")
	overrideFloat(&cfg.Engine.Speed, "FABLER_ENGINE_SPEED")
	overrideInt(&cfg.Synthesis.Concurrency, "FABLER_SYNTHESIS_CONCURRENCY")
	overrideInt(&cfg.Synthesis.MaxRetries, "FABLER_SYNTHESIS_MAX_RETRIES")
	overrideInt(&cfg.Synthesis.RetryBaseMS, "FABLER_SYNTHESIS_RETRY_BASE_MS")
	overrideInt(&cfg.Synthesis.RequestTimeoutMS, "FABLER_SYNTHESIS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.SilenceCharsPerS, "FABLER_SYNTHESIS_SILENCE_CHARS_PER_SECOND")
	overrideInt(&cfg.Pacing.ParagraphPauseMS, "FABLER_PACING_PARAGRAPH_PAUSE_MS")
	overrideInt(&cfg.Pacing.ChapterPauseMS, "FABLER_PACING_CHAPTER_PAUSE_MS")
	overrideBool(&cfg.Cache.Enabled, "FABLER_CACHE_ENABLED")
	overrideString(&cfg.Cache.Path, "FABLER_CACHE_PATH")
	overrideInt(&cfg.Cache.MaxDays, "FABLER_CACHE_MAX_AGE_DAYS")
	overrideString(&cfg.Telemetry.LogLevel, "FABLER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FABLER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FABLER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.StatusBind, "FABLER_TELEMETRY_STATUS_BIND")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Output.Format {
	case "wav", "m4b":
	default:
		return errors.New("output.format must be one of wav|m4b")
	}
	if cfg.Output.Directory == "" {
		return errors.New("output.directory must not be empty")
	}
	if cfg.Output.Format == "m4b" && cfg.Output.FFmpegCommand == "" {
		return errors.New("output.ffmpeg_command must be set when format=m4b")
	}
	if cfg.Text.MaxUnitLength <= 0 {
		return errors.New("text.max_unit_length must be positive")
	}
	if cfg.Text.MinChapterChars < 0 {
		return errors.New("text.min_chapter_chars must be >= 0")
	}
	if strings.TrimSpace(cfg.Voice.Expression) == "" {
		return errors.New("voice.expression must not be empty")
	}
	switch cfg.Engine.Name {
	case "mock", "kokoro", "xtts":
	default:
		return errors.New("engine.name must be one of mock|kokoro|xtts")
	}
	if cfg.Engine.Name != "mock" && cfg.Engine.Command == "" {
		return fmt.Errorf("engine.command must be set when engine.name=%s", cfg.Engine.Name)
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.Speed <= 0 {
		return errors.New("engine.speed must be positive")
	}
	if cfg.Synthesis.Concurrency <= 0 {
		return errors.New("synthesis.concurrency must be >= 1")
	}
	if cfg.Synthesis.MaxRetries < 0 {
		return errors.New("synthesis.max_retries must be >= 0")
	}
	if cfg.Synthesis.RetryBaseMS <= 0 {
		return errors.New("synthesis.retry_base_ms must be positive")
	}
	if cfg.Synthesis.RequestTimeoutMS <= 0 {
		return errors.New("synthesis.request_timeout_ms must be positive")
	}
	if cfg.Synthesis.SilenceCharsPerS <= 0 {
		return errors.New("synthesis.silence_chars_per_second must be positive")
	}
	if cfg.Pacing.ParagraphPauseMS < 0 {
		return errors.New("pacing.paragraph_pause_ms must be >= 0")
	}
	if cfg.Pacing.ChapterPauseMS < 0 {
		return errors.New("pacing.chapter_pause_ms must be >= 0")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Path == "" {
			return errors.New("cache.path must not be empty when cache is enabled")
		}
		if cfg.Cache.MaxDays < 0 {
			return errors.New("cache.max_age_days must be >= 0")
		}
	}
	return nil
}
