// Package config provides the configuration schema and loader for the
// vocoserve speech-to-text server.
package config

import (
	"time"

	"github.com/MrWong99/vocoserve/internal/asr"
)

// LogLevel controls log verbosity for the vocoserve server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Engine selects the server-wide recognizer engine.
type Engine string

const (
	// EngineWhisper runs local whisper.cpp inference.
	EngineWhisper Engine = "whisper"

	// EngineKaldi proxies audio to a remote Kaldi/Vosk server.
	EngineKaldi Engine = "kaldi"

	// EngineVosk is an alias for EngineKaldi kept for client compatibility.
	EngineVosk Engine = "vosk"

	// EngineWaveWriter records audio to WAV files without transcribing.
	EngineWaveWriter Engine = "wave_writer"

	// EngineDynamic picks the engine per session from the selected model.
	EngineDynamic Engine = "dynamic"
)

// IsValid reports whether e is a recognised engine name.
func (e Engine) IsValid() bool {
	switch e {
	case EngineWhisper, EngineKaldi, EngineVosk, EngineWaveWriter, EngineDynamic:
		return true
	}
	return false
}

// Config is the root configuration structure for vocoserve.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig  `yaml:"server"`
	Auth       AuthConfig    `yaml:"auth"`
	ASR        ASRConfig     `yaml:"asr"`
	Whisper    WhisperConfig `yaml:"whisper"`
	Recordings string        `yaml:"recordings_path"`
}

// ServerConfig holds network, logging and session timing settings.
type ServerConfig struct {
	// Host is the interface to bind (e.g. "0.0.0.0").
	Host string `yaml:"host"`

	// Port is the TCP port the server listens on.
	Port int `yaml:"port"`

	// CORSOrigins lists allowed WebSocket origin patterns. "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// HeartbeatSeconds is the interval between server pings on an idle
	// session. 0 means the default of 10 seconds.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`

	// TimeoutSeconds is the idle window after which a silent session is
	// closed. 0 means the default of 15 seconds.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Heartbeat returns the configured heartbeat interval as a duration.
func (s ServerConfig) Heartbeat() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

// IdleTimeout returns the configured idle timeout as a duration.
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// AuthConfig holds the tokens accepted during the welcome handshake.
type AuthConfig struct {
	// CommonToken is a single shared access token valid for any client.
	// Empty disables the shared token.
	CommonToken string `yaml:"common_token"`

	// Clients maps client_id to its individual access token.
	Clients map[string]string `yaml:"clients"`
}

// ASRConfig selects the engine and declares the available models.
type ASRConfig struct {
	// Engine is the server-wide engine, or "dynamic" to pick the engine
	// per session from the selected model.
	Engine Engine `yaml:"engine"`

	// Models lists the recognizer models clients can select.
	Models []ModelConfig `yaml:"models"`

	// SpeakerModels lists optional speaker identification models for
	// engines that support them.
	SpeakerModels []SpeakerModelConfig `yaml:"speaker_models"`
}

// SpeakerModelConfig describes one speaker identification model.
type SpeakerModelConfig struct {
	// Name is the display name reported on /settings. Empty defaults to
	// Path.
	Name string `yaml:"name"`

	// Path locates the model relative to the models folder.
	Path string `yaml:"path"`
}

// ModelConfig describes one recognizer model entry.
type ModelConfig struct {
	// Name is the unique display name clients may request directly.
	// Empty defaults to Path.
	Name string `yaml:"name"`

	// Path locates the model relative to the models folder. For remote
	// engines this may be a logical identifier.
	Path string `yaml:"path"`

	// Lang is the model's language tag (e.g. "de-DE").
	Lang string `yaml:"lang"`

	// Engine names the engine this model runs on. Required when the
	// server engine is "dynamic", ignored otherwise.
	Engine Engine `yaml:"engine"`

	// Task distinguishes models sharing a language (e.g. "assistant").
	Task string `yaml:"task"`

	// Scorer is an optional language-model scorer file for Kaldi models.
	Scorer string `yaml:"scorer"`

	// BeamSize overrides the decoder beam size. 0 keeps the engine default.
	BeamSize int `yaml:"beamsize"`

	// Prompt is an optional initial prompt biasing whisper decoding.
	Prompt string `yaml:"prompt"`

	// Translate makes whisper translate to English instead of transcribing.
	Translate bool `yaml:"translate"`

	// ComputeDevice selects the inference device (e.g. "cpu", "cuda").
	ComputeDevice string `yaml:"compute_device"`

	// ComputeType selects the inference precision (e.g. "int8", "float16").
	ComputeType string `yaml:"compute_type"`

	// ServerURL is the remote recognizer endpoint for Kaldi/Vosk models.
	ServerURL string `yaml:"server_url"`
}

// ToModel converts the entry into the runtime model descriptor. Engine
// specific fields land in the properties map so engines can read them
// without knowing the config schema.
func (m ModelConfig) ToModel() asr.Model {
	name := m.Name
	if name == "" {
		name = m.Path
	}
	props := make(map[string]any)
	if m.Scorer != "" {
		props["scorer"] = m.Scorer
	}
	if m.BeamSize > 0 {
		props["beamsize"] = m.BeamSize
	}
	if m.Prompt != "" {
		props["prompt"] = m.Prompt
	}
	if m.Translate {
		props["translate"] = true
	}
	if m.ComputeDevice != "" {
		props["compute_device"] = m.ComputeDevice
	}
	if m.ComputeType != "" {
		props["compute_type"] = m.ComputeType
	}
	if m.ServerURL != "" {
		props["server_url"] = m.ServerURL
	}
	return asr.Model{
		Name:       name,
		Path:       m.Path,
		Language:   m.Lang,
		Engine:     string(m.Engine),
		Task:       m.Task,
		Properties: props,
	}
}

// WhisperConfig tunes the local whisper.cpp engine.
type WhisperConfig struct {
	// ModelsDir is the folder containing whisper model files.
	ModelsDir string `yaml:"models_dir"`

	// CacheSize is the number of loaded models kept in memory.
	// 0 means the default of 2.
	CacheSize int `yaml:"cache_size"`

	// ThreadsPerModel is the number of inference threads per model.
	// 0 lets whisper.cpp decide.
	ThreadsPerModel int `yaml:"threads_per_model"`
}
