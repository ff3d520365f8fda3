package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/weighworks/loadcell-dash/internal/scale"
)

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	// Bus
	Bus BusConfig `yaml:"bus" json:"bus"`

	// Calibration
	Calibration CalibrationConfig `yaml:"calibration" json:"calibration"`

	// Stability detection
	Stability StabilityConfig `yaml:"stability" json:"stability"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

// BusConfig selects and configures the bus backend.
type BusConfig struct {
	Type            string  `yaml:"type" json:"type"` // "serial" or "demo"
	PortPath        string  `yaml:"port_path" json:"portPath"`
	BaudRate        int     `yaml:"baud_rate" json:"baudRate"`
	PollHz          int     `yaml:"poll_hz" json:"pollHz"`
	HexUnitsPerGram float64 `yaml:"hex_units_per_gram" json:"hexUnitsPerGram"`
}

// ScaleConfig converts to the bus package's config type.
func (b BusConfig) ScaleConfig() scale.Config {
	return scale.Config{
		PortPath:        b.PortPath,
		BaudRate:        b.BaudRate,
		PollHz:          b.PollHz,
		HexUnitsPerGram: b.HexUnitsPerGram,
	}
}

// CalibrationConfig selects the linearity correction applied after
// per-device zero/scale calibration.
type CalibrationConfig struct {
	Correction string  `yaml:"correction" json:"correction"` // "identity", "linear", "quadratic"
	Slope      float64 `yaml:"slope" json:"slope"`
	Intercept  float64 `yaml:"intercept" json:"intercept"`
	A          float64 `yaml:"a" json:"a"`
	B          float64 `yaml:"b" json:"b"`
	C          float64 `yaml:"c" json:"c"`
}

// StabilityConfig tunes stable-weight detection.
type StabilityConfig struct {
	WindowSize     int     `yaml:"window_size" json:"windowSize"`
	ToleranceGrams float64 `yaml:"tolerance_grams" json:"toleranceGrams"`
}

// LoggingConfig controls the CSV sample log.
type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Type:            "demo",
			PortPath:        "/dev/ttyLoadcell",
			BaudRate:        115200,
			PollHz:          20,
			HexUnitsPerGram: 0, // 0 = protocol default (565.4)
		},
		Calibration: CalibrationConfig{
			Correction: "identity",
		},
		Stability: StabilityConfig{
			WindowSize:     5,
			ToleranceGrams: 1.0,
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/loadcell-dash",
			Interval: 100,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if YAML not
// found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: BUS_TYPE, BUS_PORT, BUS_BAUD, BUS_POLL_HZ,
// BUS_HEX_UNITS_PER_GRAM, LISTEN_ADDR, CORRECTION, LOG_ENABLED,
// LOG_PATH, LOG_INTERVAL_MS.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BUS_TYPE"); v != "" {
		c.Bus.Type = v
	}
	if v := os.Getenv("BUS_PORT"); v != "" {
		c.Bus.PortPath = v
	}
	if v := os.Getenv("BUS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.BaudRate = n
		}
	}
	if v := os.Getenv("BUS_POLL_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.PollHz = n
		}
	}
	if v := os.Getenv("BUS_HEX_UNITS_PER_GRAM"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Bus.HexUnitsPerGram = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("CORRECTION"); v != "" {
		c.Calibration.Correction = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/loadcell-dash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
