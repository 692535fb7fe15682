package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overload policies for the buffering strategy.
const (
	PolicyDrop = "drop"
	PolicyFail = "fail"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Audio     AudioConfig     `yaml:"audio"`
	Buffering BufferingConfig `yaml:"buffering"`
	VAD       EngineConfig    `yaml:"vad"`
	ASR       ASRConfig       `yaml:"asr"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains WebSocket server configuration
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// HTTPConfig contains the monitoring HTTP API server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AudioConfig contains the audio format negotiated for every connection
type AudioConfig struct {
	SamplingRate int `yaml:"sampling_rate"` // Hz
	SampleWidth  int `yaml:"sample_width"`  // bytes per sample
}

// BufferingConfig contains the chunking parameters of the buffering strategy
type BufferingConfig struct {
	ChunkLengthSeconds float64 `yaml:"chunk_length_seconds"`
	ChunkOffsetSeconds float64 `yaml:"chunk_offset_seconds"`
	OverloadPolicy     string  `yaml:"overload_policy"` // "drop" or "fail"
}

// EngineConfig selects a pluggable engine backend by name with a free-form
// argument bag that the backend validates itself
type EngineConfig struct {
	Type string         `yaml:"type"`
	Args map[string]any `yaml:"args"`
}

// ASRConfig extends engine selection with the per-engine memory footprint
// used to size the recognition engine pool
type ASRConfig struct {
	Type             string         `yaml:"type"`
	Args             map[string]any `yaml:"args"`
	ModelMemoryBytes int64          `yaml:"model_memory_bytes"`
}

// AuthConfig contains API key store configuration. Keys listed here are
// merged with the AWAAZ_API_KEY environment variable, optionally seeded
// from a dotenv file.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
	EnvFile string   `yaml:"env_file"`
}

// MetricsConfig contains metric publishing configuration
type MetricsConfig struct {
	PublishInterval int `yaml:"publish_interval"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns a configuration populated with the service defaults.
// Values present in the loaded file override these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Audio: AudioConfig{
			SamplingRate: 16000,
			SampleWidth:  2,
		},
		Buffering: BufferingConfig{
			ChunkLengthSeconds: 5,
			ChunkOffsetSeconds: 0.1,
			OverloadPolicy:     PolicyDrop,
		},
		VAD: EngineConfig{
			Type: "energy",
		},
		ASR: ASRConfig{
			Type:             "whisper",
			ModelMemoryBytes: 3 << 30, // large-v3 footprint
		},
		Metrics: MetricsConfig{
			PublishInterval: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Buffering.Validate(); err != nil {
		return fmt.Errorf("buffering config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if (s.CertFile == "") != (s.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be supplied together")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SamplingRate < 8000 || a.SamplingRate > 48000 {
		return fmt.Errorf("sampling_rate must be between 8000 and 48000 Hz, got %d", a.SamplingRate)
	}

	if a.SampleWidth != 1 && a.SampleWidth != 2 && a.SampleWidth != 4 {
		return fmt.Errorf("sample_width must be 1, 2 or 4 bytes, got %d", a.SampleWidth)
	}

	return nil
}

// Validate validates buffering configuration
func (b *BufferingConfig) Validate() error {
	if b.ChunkLengthSeconds <= 0 {
		return fmt.Errorf("chunk_length_seconds must be positive, got %f", b.ChunkLengthSeconds)
	}

	if b.ChunkOffsetSeconds < 0 {
		return fmt.Errorf("chunk_offset_seconds cannot be negative, got %f", b.ChunkOffsetSeconds)
	}

	if b.ChunkOffsetSeconds >= b.ChunkLengthSeconds {
		return fmt.Errorf("chunk_offset_seconds (%f) must be less than chunk_length_seconds (%f)",
			b.ChunkOffsetSeconds, b.ChunkLengthSeconds)
	}

	if b.OverloadPolicy != PolicyDrop && b.OverloadPolicy != PolicyFail {
		return fmt.Errorf("overload_policy must be '%s' or '%s', got '%s'", PolicyDrop, PolicyFail, b.OverloadPolicy)
	}

	return nil
}

// Validate validates engine selection configuration
func (e *EngineConfig) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("type cannot be empty")
	}

	return nil
}

// Validate validates ASR engine configuration
func (a *ASRConfig) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("type cannot be empty")
	}

	if a.ModelMemoryBytes <= 0 {
		return fmt.Errorf("model_memory_bytes must be positive, got %d", a.ModelMemoryBytes)
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.PublishInterval < 1 {
		return fmt.Errorf("publish_interval must be at least 1 second, got %d", m.PublishInterval)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// ArgsJSON converts the engine argument bag to JSON for the backend factory
func (e *EngineConfig) ArgsJSON() (json.RawMessage, error) {
	return marshalArgs(e.Args)
}

// ArgsJSON converts the engine argument bag to JSON for the backend factory
func (a *ASRConfig) ArgsJSON() (json.RawMessage, error) {
	return marshalArgs(a.Args)
}

func marshalArgs(args map[string]any) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine args: %w", err)
	}
	return data, nil
}

// GetPublishInterval returns the metrics publish interval as a time.Duration
func (m *MetricsConfig) GetPublishInterval() time.Duration {
	return time.Duration(m.PublishInterval) * time.Second
}

// ChunkLengthBytes returns the finalize trigger threshold in bytes for the
// given audio format
func (b *BufferingConfig) ChunkLengthBytes(samplingRate, sampleWidth int) int {
	return int(b.ChunkLengthSeconds * float64(samplingRate) * float64(sampleWidth))
}

// TLSEnabled reports whether the server should terminate TLS
func (s *ServerConfig) TLSEnabled() bool {
	return s.CertFile != "" && s.KeyFile != ""
}
