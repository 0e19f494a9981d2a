package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Voices      VoicesConfig    `yaml:"voices"`
	Audio       AudioConfig     `yaml:"audio"`
	STT         STTConfig       `yaml:"stt"`
	TTS         TTSConfig       `yaml:"tts"`
	Session     SessionConfig   `yaml:"session"`
	Snapshot    SnapshotConfig  `yaml:"snapshot"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type VoicesConfig struct {
	Dir string `yaml:"dir"`
}

type AudioConfig struct {
	ConverterCommand string `yaml:"converter_command"`
	ConvertTimeoutMS int    `yaml:"convert_timeout_ms"`
	MaxBlobBytes     int    `yaml:"max_blob_bytes"`
}

type STTConfig struct {
	Mode             string `yaml:"mode"` // mock, exec, whisper
	Command          string `yaml:"command"`
	ModelPath        string `yaml:"model_path"`
	Language         string `yaml:"language"`
	Workers          int    `yaml:"workers"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

type TTSConfig struct {
	Mode             string `yaml:"mode"` // mock, exec
	Command          string `yaml:"command"`
	Workers          int    `yaml:"workers"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	CacheEntries     int    `yaml:"cache_entries"`
}

type SessionConfig struct {
	QueueDepth     int   `yaml:"queue_depth"`
	WriteTimeoutMS int   `yaml:"write_timeout_ms"`
	ReadLimitBytes int64 `yaml:"read_limit_bytes"`
}

type SnapshotConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	IndexPath   string `yaml:"index_path"`
	MaxRequests int    `yaml:"max_requests"`
}

func Default() Config {
	return Config{
		RuntimeName: "vocalweaver",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Voices: VoicesConfig{
			Dir: "./voices",
		},
		Audio: AudioConfig{
			ConverterCommand: "ffmpeg -hide_banner -loglevel error -i pipe:0 -f s16le -ac 1 -ar 16000 pipe:1",
			ConvertTimeoutMS: 15000,
			MaxBlobBytes:     16 << 20,
		},
		STT: STTConfig{
			Mode:             "mock",
			Language:         "en",
			Workers:          2,
			RequestTimeoutMS: 45000,
		},
		TTS: TTSConfig{
			Mode:             "mock",
			Workers:          2,
			RequestTimeoutMS: 45000,
			CacheEntries:     32,
		},
		Session: SessionConfig{
			QueueDepth:     4,
			WriteTimeoutMS: 10000,
			ReadLimitBytes: 32 << 20,
		},
		Snapshot: SnapshotConfig{
			Enabled:     false,
			Dir:         "./debug_audio",
			IndexPath:   "./debug_audio/index.db",
			MaxRequests: 256,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
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
	overrideString(&cfg.RuntimeName, "VOCALWEAVER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOCALWEAVER_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOCALWEAVER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOCALWEAVER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOCALWEAVER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOCALWEAVER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOCALWEAVER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOCALWEAVER_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOCALWEAVER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOCALWEAVER_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOCALWEAVER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOCALWEAVER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOCALWEAVER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOCALWEAVER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOCALWEAVER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOCALWEAVER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Voices.Dir, "VOCALWEAVER_VOICES_DIR")
	overrideString(&cfg.Audio.ConverterCommand, "VOCALWEAVER_AUDIO_CONVERTER_COMMAND")
	overrideInt(&cfg.Audio.ConvertTimeoutMS, "VOCALWEAVER_AUDIO_CONVERT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.MaxBlobBytes, "VOCALWEAVER_AUDIO_MAX_BLOB_BYTES")
	overrideString(&cfg.STT.Mode, "VOCALWEAVER_STT_MODE")
	overrideString(&cfg.STT.Command, "VOCALWEAVER_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VOCALWEAVER_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "VOCALWEAVER_STT_LANGUAGE")
	overrideInt(&cfg.STT.Workers, "VOCALWEAVER_STT_WORKERS")
	overrideInt(&cfg.STT.RequestTimeoutMS, "VOCALWEAVER_STT_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOCALWEAVER_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VOCALWEAVER_TTS_COMMAND")
	overrideInt(&cfg.TTS.Workers, "VOCALWEAVER_TTS_WORKERS")
	overrideInt(&cfg.TTS.RequestTimeoutMS, "VOCALWEAVER_TTS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.TTS.CacheEntries, "VOCALWEAVER_TTS_CACHE_ENTRIES")
	overrideInt(&cfg.Session.QueueDepth, "VOCALWEAVER_SESSION_QUEUE_DEPTH")
	overrideInt(&cfg.Session.WriteTimeoutMS, "VOCALWEAVER_SESSION_WRITE_TIMEOUT_MS")
	overrideInt64(&cfg.Session.ReadLimitBytes, "VOCALWEAVER_SESSION_READ_LIMIT_BYTES")
	overrideBool(&cfg.Snapshot.Enabled, "VOCALWEAVER_SNAPSHOT_ENABLED")
	overrideString(&cfg.Snapshot.Dir, "VOCALWEAVER_SNAPSHOT_DIR")
	overrideString(&cfg.Snapshot.IndexPath, "VOCALWEAVER_SNAPSHOT_INDEX_PATH")
	overrideInt(&cfg.Snapshot.MaxRequests, "VOCALWEAVER_SNAPSHOT_MAX_REQUESTS")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Voices.Dir == "" {
		return errors.New("voices.dir must not be empty")
	}
	if cfg.Audio.ConverterCommand == "" {
		return errors.New("audio.converter_command must not be empty")
	}
	if cfg.Audio.ConvertTimeoutMS <= 0 {
		return errors.New("audio.convert_timeout_ms must be positive")
	}
	if cfg.Audio.MaxBlobBytes <= 0 {
		return errors.New("audio.max_blob_bytes must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "exec", "whisper":
	default:
		return errors.New("stt.mode must be one of mock|exec|whisper")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.Mode != "mock" && cfg.STT.ModelPath == "" {
		return errors.New("stt.model_path must be set when mode=exec or mode=whisper")
	}
	if cfg.STT.Workers <= 0 {
		return errors.New("stt.workers must be >= 1")
	}
	if cfg.STT.RequestTimeoutMS <= 0 {
		return errors.New("stt.request_timeout_ms must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Workers <= 0 {
		return errors.New("tts.workers must be >= 1")
	}
	if cfg.TTS.RequestTimeoutMS <= 0 {
		return errors.New("tts.request_timeout_ms must be positive")
	}
	if cfg.TTS.CacheEntries < 0 {
		return errors.New("tts.cache_entries must be >= 0")
	}
	if cfg.Session.QueueDepth <= 0 {
		return errors.New("session.queue_depth must be >= 1")
	}
	if cfg.Session.WriteTimeoutMS <= 0 {
		return errors.New("session.write_timeout_ms must be positive")
	}
	if cfg.Session.ReadLimitBytes <= 0 {
		return errors.New("session.read_limit_bytes must be positive")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Snapshot.Enabled {
		if cfg.Snapshot.Dir == "" {
			return errors.New("snapshot.dir must not be empty when snapshots are enabled")
		}
		if cfg.Snapshot.IndexPath == "" {
			return errors.New("snapshot.index_path must not be empty when snapshots are enabled")
		}
		if cfg.Snapshot.MaxRequests <= 0 {
			return errors.New("snapshot.max_requests must be >= 1")
		}
	}
	return nil
}
