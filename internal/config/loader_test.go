package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  host: "127.0.0.1"
  port: 20741
  log_level: debug
  heartbeat_seconds: 5
  timeout_seconds: 20
auth:
  common_token: "test123"
  clients:
    app1: "secret1"
asr:
  engine: dynamic
  models:
    - path: "ggml-small.bin"
      name: "small-multilingual"
      lang: "en-US"
      engine: whisper
      beamsize: 5
      translate: true
    - path: "vosk-model-de"
      lang: "de-DE"
      engine: vosk
      server_url: "ws://localhost:2700"
  speaker_models:
    - path: "vosk-model-spk"
      name: "spk-default"
whisper:
  models_dir: "/opt/models"
  cache_size: 3
  threads_per_model: 4
recordings_path: "/tmp/rec"
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 20741 {
		t.Errorf("server = %s:%d, want 127.0.0.1:20741", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log level = %q, want debug", cfg.Server.LogLevel)
	}
	if got := cfg.Server.Heartbeat().Seconds(); got != 5 {
		t.Errorf("heartbeat = %vs, want 5s", got)
	}
	if got := cfg.Server.IdleTimeout().Seconds(); got != 20 {
		t.Errorf("timeout = %vs, want 20s", got)
	}
	if cfg.Auth.CommonToken != "test123" || cfg.Auth.Clients["app1"] != "secret1" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.ASR.Engine != EngineDynamic {
		t.Errorf("engine = %q, want dynamic", cfg.ASR.Engine)
	}
	if len(cfg.ASR.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(cfg.ASR.Models))
	}
	if len(cfg.ASR.SpeakerModels) != 1 || cfg.ASR.SpeakerModels[0].Name != "spk-default" {
		t.Errorf("speaker models = %+v", cfg.ASR.SpeakerModels)
	}
	if cfg.Whisper.ModelsDir != "/opt/models" || cfg.Whisper.CacheSize != 3 {
		t.Errorf("whisper = %+v", cfg.Whisper)
	}
	if cfg.Recordings != "/tmp/rec" {
		t.Errorf("recordings = %q", cfg.Recordings)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
asr:
  engine: whisper
  models:
    - path: "ggml-base.en.bin"
      lang: "en-US"
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.Host != DefaultHost {
		t.Errorf("host = %q, want %q", cfg.Server.Host, DefaultHost)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("cors = %v, want [*]", cfg.Server.CORSOrigins)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.HeartbeatSeconds != DefaultHeartbeatSeconds || cfg.Server.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("timing = %d/%d", cfg.Server.HeartbeatSeconds, cfg.Server.TimeoutSeconds)
	}
	if cfg.Whisper.ModelsDir != DefaultModelsDir || cfg.Whisper.CacheSize != DefaultCacheSize {
		t.Errorf("whisper = %+v", cfg.Whisper)
	}
	if cfg.Recordings != DefaultRecordingsPath {
		t.Errorf("recordings = %q, want %q", cfg.Recordings, DefaultRecordingsPath)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  prot: 1234
asr:
  engine: whisper
  models:
    - path: "a.bin"
      lang: "en-US"
`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: `
server:
  log_level: chatty
asr:
  engine: whisper
  models:
    - {path: "a.bin", lang: "en-US"}
`,
			want: "server.log_level",
		},
		{
			name: "bad engine",
			yaml: `
asr:
  engine: sphinx
  models:
    - {path: "a.bin", lang: "en-US"}
`,
			want: "asr.engine",
		},
		{
			name: "no models",
			yaml: `
asr:
  engine: whisper
`,
			want: "at least one model",
		},
		{
			name: "model path missing",
			yaml: `
asr:
  engine: whisper
  models:
    - {lang: "en-US"}
`,
			want: "path is required",
		},
		{
			name: "model lang missing",
			yaml: `
asr:
  engine: whisper
  models:
    - {path: "a.bin"}
`,
			want: "lang is required",
		},
		{
			name: "dynamic requires per-model engine",
			yaml: `
asr:
  engine: dynamic
  models:
    - {path: "a.bin", lang: "en-US"}
`,
			want: "engine is required when asr.engine is dynamic",
		},
		{
			name: "dynamic is not a model engine",
			yaml: `
asr:
  engine: dynamic
  models:
    - {path: "a.bin", lang: "en-US", engine: dynamic}
`,
			want: "asr.models[0].engine",
		},
		{
			name: "vosk requires server url",
			yaml: `
asr:
  engine: vosk
  models:
    - {path: "vosk-de", lang: "de-DE"}
`,
			want: "server_url is required",
		},
		{
			name: "duplicate model names",
			yaml: `
asr:
  engine: whisper
  models:
    - {path: "a.bin", name: "dup", lang: "en-US"}
    - {path: "b.bin", name: "dup", lang: "de-DE"}
`,
			want: "duplicate",
		},
		{
			name: "heartbeat exceeds timeout",
			yaml: `
server:
  heartbeat_seconds: 30
  timeout_seconds: 15
asr:
  engine: whisper
  models:
    - {path: "a.bin", lang: "en-US"}
`,
			want: "heartbeat_seconds",
		},
		{
			name: "port out of range",
			yaml: `
server:
  port: 99999
asr:
  engine: whisper
  models:
    - {path: "a.bin", lang: "en-US"}
`,
			want: "server.port",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(c.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestModelConfig_ToModel(t *testing.T) {
	m := ModelConfig{
		Path:          "ggml-small.bin",
		Lang:          "de-DE",
		Engine:        EngineWhisper,
		Task:          "assistant",
		BeamSize:      5,
		Prompt:        "Hallo",
		Translate:     true,
		ComputeDevice: "cuda",
		ServerURL:     "ws://localhost:2700",
	}

	got := m.ToModel()
	if got.Name != "ggml-small.bin" {
		t.Errorf("name = %q, want path fallback", got.Name)
	}
	if got.Language != "de-DE" || got.Engine != "whisper" || got.Task != "assistant" {
		t.Errorf("model = %+v", got)
	}
	for key, want := range map[string]any{
		"beamsize":       5,
		"prompt":         "Hallo",
		"translate":      true,
		"compute_device": "cuda",
		"server_url":     "ws://localhost:2700",
	} {
		if got.Properties[key] != want {
			t.Errorf("properties[%q] = %v, want %v", key, got.Properties[key], want)
		}
	}
	if _, ok := got.Properties["scorer"]; ok {
		t.Error("empty scorer should not be set")
	}
}

func TestConfig_Models(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	models := cfg.Models()
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	if models[0].Name != "small-multilingual" || models[1].Name != "vosk-model-de" {
		t.Errorf("names = %q, %q", models[0].Name, models[1].Name)
	}
	if models[1].Properties["server_url"] != "ws://localhost:2700" {
		t.Errorf("properties = %v", models[1].Properties)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}
