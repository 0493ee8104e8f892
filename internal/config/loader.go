package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/vocoserve/internal/asr"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] for fields left empty in the YAML file.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 20741
	DefaultHeartbeatSeconds = 10
	DefaultTimeoutSeconds   = 15
	DefaultModelsDir        = "./models"
	DefaultRecordingsPath   = "./recordings"
	DefaultCacheSize        = 2
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.HeartbeatSeconds == 0 {
		cfg.Server.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if cfg.Server.TimeoutSeconds == 0 {
		cfg.Server.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.ASR.Engine == "" {
		cfg.ASR.Engine = EngineDynamic
	}
	if cfg.Whisper.ModelsDir == "" {
		cfg.Whisper.ModelsDir = DefaultModelsDir
	}
	if cfg.Whisper.CacheSize == 0 {
		cfg.Whisper.CacheSize = DefaultCacheSize
	}
	if cfg.Recordings == "" {
		cfg.Recordings = DefaultRecordingsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.HeartbeatSeconds < 0 {
		errs = append(errs, fmt.Errorf("server.heartbeat_seconds must not be negative"))
	}
	if cfg.Server.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("server.timeout_seconds must not be negative"))
	}
	if cfg.Server.TimeoutSeconds > 0 && cfg.Server.HeartbeatSeconds > cfg.Server.TimeoutSeconds {
		errs = append(errs, fmt.Errorf("server.heartbeat_seconds %d exceeds server.timeout_seconds %d", cfg.Server.HeartbeatSeconds, cfg.Server.TimeoutSeconds))
	}

	if !cfg.ASR.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("asr.engine %q is invalid; valid values: whisper, kaldi, vosk, wave_writer, dynamic", cfg.ASR.Engine))
	}
	if len(cfg.ASR.Models) == 0 {
		errs = append(errs, errors.New("asr.models must list at least one model"))
	}

	namesSeen := make(map[string]int, len(cfg.ASR.Models))
	for i, m := range cfg.ASR.Models {
		prefix := fmt.Sprintf("asr.models[%d]", i)
		if m.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		if m.Lang == "" {
			errs = append(errs, fmt.Errorf("%s.lang is required", prefix))
		}
		if m.Engine != "" && (!m.Engine.IsValid() || m.Engine == EngineDynamic) {
			errs = append(errs, fmt.Errorf("%s.engine %q is invalid; valid values: whisper, kaldi, vosk, wave_writer", prefix, m.Engine))
		}
		if cfg.ASR.Engine == EngineDynamic && m.Engine == "" {
			errs = append(errs, fmt.Errorf("%s.engine is required when asr.engine is dynamic", prefix))
		}
		engine := m.Engine
		if engine == "" {
			engine = cfg.ASR.Engine
		}
		if (engine == EngineKaldi || engine == EngineVosk) && m.ServerURL == "" {
			errs = append(errs, fmt.Errorf("%s.server_url is required for engine %q", prefix, engine))
		}

		name := m.Name
		if name == "" {
			name = m.Path
		}
		if name != "" {
			if prev, ok := namesSeen[name]; ok {
				errs = append(errs, fmt.Errorf("%s name %q is a duplicate of asr.models[%d]", prefix, name, prev))
			}
			namesSeen[name] = i
		}
	}

	for i, m := range cfg.ASR.SpeakerModels {
		if m.Path == "" {
			errs = append(errs, fmt.Errorf("asr.speaker_models[%d].path is required", i))
		}
	}

	if cfg.Whisper.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("whisper.cache_size must not be negative"))
	}
	if cfg.Whisper.ThreadsPerModel < 0 {
		errs = append(errs, fmt.Errorf("whisper.threads_per_model must not be negative"))
	}

	return errors.Join(errs...)
}

// Models converts all configured model entries into runtime descriptors.
func (c *Config) Models() []asr.Model {
	out := make([]asr.Model, len(c.ASR.Models))
	for i, m := range c.ASR.Models {
		out[i] = m.ToModel()
	}
	return out
}
