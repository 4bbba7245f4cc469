// Package config loads the VNC server's configuration from defaults,
// an optional YAML file, environment variables, and command-line overrides,
// in that increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// globalConfig stores the configuration most recently loaded by
// LoadWithOverrides; GetGlobalConfig returns it.
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	VNC       VNCConfig       `json:"vnc" yaml:"vnc"`
	WebSocket WebSocketConfig `json:"webSocket" yaml:"webSocket"`
	LAN       LANTuningConfig `json:"lan" yaml:"lan"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// LoadOptions holds command-line override options. A zero value for any
// field means "use the environment variable or default instead".
type LoadOptions struct {
	Host                   string
	Port                   string
	Password               string
	LogLevel               string
	ConfigFile             string
	NetworkProfileOverride string
	MaxConnections         int
	EnableWebSocket        *bool
}

// ServerConfig holds listener-level configuration.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"VNC_HOST" default:"0.0.0.0"`
	Port int    `json:"port" yaml:"port" env:"VNC_PORT" default:"5900"`
}

// NetworkProfile drives encoder selection and frame pacing.
type NetworkProfile string

const (
	ProfileAuto      NetworkProfile = ""
	ProfileLocalhost NetworkProfile = "localhost"
	ProfileLAN       NetworkProfile = "lan"
	ProfileWAN       NetworkProfile = "wan"
)

// VNCConfig holds RFB-protocol-level configuration.
type VNCConfig struct {
	Password                string         `json:"password" yaml:"password" env:"VNC_PASSWORD" default:""`
	FrameRate               int            `json:"frameRate" yaml:"frameRate" env:"VNC_FRAME_RATE" default:"30"`
	LANFrameRate            int            `json:"lanFrameRate" yaml:"lanFrameRate" env:"VNC_LAN_FRAME_RATE" default:"60"`
	NetworkProfileOverride  NetworkProfile `json:"networkProfileOverride" yaml:"networkProfileOverride" env:"VNC_NETWORK_PROFILE" default:""`
	ScaleFactor             float64        `json:"scaleFactor" yaml:"scaleFactor" env:"VNC_SCALE_FACTOR" default:"1.0"`
	MaxConnections          int            `json:"maxConnections" yaml:"maxConnections" env:"VNC_MAX_CONNECTIONS" default:"10"`
	EnableRegionDetection   bool           `json:"enableRegionDetection" yaml:"enableRegionDetection" env:"VNC_ENABLE_REGION_DETECTION" default:"true"`
	EnableCursorEncoding    bool           `json:"enableCursorEncoding" yaml:"enableCursorEncoding" env:"VNC_ENABLE_CURSOR_ENCODING" default:"false"`
	EnableTightEncoding     bool           `json:"enableTightEncoding" yaml:"enableTightEncoding" env:"VNC_ENABLE_TIGHT_ENCODING" default:"false"`
	EnableJPEGEncoding      bool           `json:"enableJPEGEncoding" yaml:"enableJPEGEncoding" env:"VNC_ENABLE_JPEG_ENCODING" default:"false"`
	EnableH264Encoding      bool           `json:"enableH264Encoding" yaml:"enableH264Encoding" env:"VNC_ENABLE_H264_ENCODING" default:"false"`
	EnableParallelEncoding  bool           `json:"enableParallelEncoding" yaml:"enableParallelEncoding" env:"VNC_ENABLE_PARALLEL_ENCODING" default:"false"`
	TightDisableForUltraVNC bool           `json:"tightDisableForUltravnc" yaml:"tightDisableForUltravnc" env:"VNC_TIGHT_DISABLE_ULTRAVNC" default:"true"`
	EncodingThreads         int            `json:"encodingThreads" yaml:"encodingThreads" env:"VNC_ENCODING_THREADS" default:"0"`
	MaxSetEncodings         int            `json:"maxSetEncodings" yaml:"maxSetEncodings" env:"VNC_MAX_SET_ENCODINGS" default:"32"`
	MaxClientCutText        int            `json:"maxClientCutText" yaml:"maxClientCutText" env:"VNC_MAX_CLIENT_CUT_TEXT" default:"1048576"`
	ClientSocketTimeout     time.Duration  `json:"clientSocketTimeout" yaml:"clientSocketTimeout" env:"VNC_CLIENT_SOCKET_TIMEOUT" default:"30s"`
	EnableRequestCoalescing bool           `json:"enableRequestCoalescing" yaml:"enableRequestCoalescing" env:"VNC_ENABLE_REQUEST_COALESCING" default:"true"`
	ShutdownGracePeriod     time.Duration  `json:"shutdownGracePeriod" yaml:"shutdownGracePeriod" env:"VNC_SHUTDOWN_GRACE_PERIOD" default:"5s"`
}

// WebSocketConfig holds the WebSocket adapter's configuration.
type WebSocketConfig struct {
	Enable              bool          `json:"enable" yaml:"enable" env:"VNC_ENABLE_WEBSOCKET" default:"true"`
	DetectTimeout       time.Duration `json:"detectTimeout" yaml:"detectTimeout" env:"VNC_WS_DETECT_TIMEOUT" default:"250ms"`
	MaxHandshakeBytes   int           `json:"maxHandshakeBytes" yaml:"maxHandshakeBytes" env:"VNC_WS_MAX_HANDSHAKE_BYTES" default:"16384"`
	MaxPayloadBytes     int           `json:"maxPayloadBytes" yaml:"maxPayloadBytes" env:"VNC_WS_MAX_PAYLOAD_BYTES" default:"4194304"`
	MaxBufferBytes      int           `json:"maxBufferBytes" yaml:"maxBufferBytes" env:"VNC_WS_MAX_BUFFER_BYTES" default:"16777216"`
}

// LANTuningConfig holds the adaptive LAN-profile encoder thresholds.
type LANTuningConfig struct {
	RawAreaThreshold     float64 `json:"rawAreaThreshold" yaml:"rawAreaThreshold" env:"VNC_LAN_RAW_AREA_THRESHOLD" default:"0.02"`
	RawMaxPixels         int     `json:"rawMaxPixels" yaml:"rawMaxPixels" env:"VNC_LAN_RAW_MAX_PIXELS" default:"16384"`
	PreferZlib           bool    `json:"preferZlib" yaml:"preferZlib" env:"VNC_LAN_PREFER_ZLIB" default:"true"`
	ZlibAreaThreshold    float64 `json:"zlibAreaThreshold" yaml:"zlibAreaThreshold" env:"VNC_LAN_ZLIB_AREA_THRESHOLD" default:"0.10"`
	ZlibMinPixels        int     `json:"zlibMinPixels" yaml:"zlibMinPixels" env:"VNC_LAN_ZLIB_MIN_PIXELS" default:"4096"`
	ZlibCompressionLevel int     `json:"zlibCompressionLevel" yaml:"zlibCompressionLevel" env:"VNC_LAN_ZLIB_LEVEL" default:"6"`
	ZlibWarmupRequests   int     `json:"zlibWarmupRequests" yaml:"zlibWarmupRequests" env:"VNC_LAN_ZLIB_WARMUP" default:"3"`
	JPEGAreaThreshold    float64 `json:"jpegAreaThreshold" yaml:"jpegAreaThreshold" env:"VNC_LAN_JPEG_AREA_THRESHOLD" default:"0.25"`
	JPEGMinPixels        int     `json:"jpegMinPixels" yaml:"jpegMinPixels" env:"VNC_LAN_JPEG_MIN_PIXELS" default:"16384"`
	JPEGQualityInitial   int     `json:"jpegQualityInitial" yaml:"jpegQualityInitial" env:"VNC_LAN_JPEG_QUALITY_INITIAL" default:"70"`
	JPEGQualityMin       int     `json:"jpegQualityMin" yaml:"jpegQualityMin" env:"VNC_LAN_JPEG_QUALITY_MIN" default:"30"`
	JPEGQualityMax       int     `json:"jpegQualityMax" yaml:"jpegQualityMax" env:"VNC_LAN_JPEG_QUALITY_MAX" default:"90"`
	ZRLECompressionLevel int     `json:"zrleCompressionLevel" yaml:"zrleCompressionLevel" env:"VNC_LAN_ZRLE_LEVEL" default:"3"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" env:"LOG_LEVEL" default:"info"`
	File  string `json:"file" yaml:"file" env:"LOG_FILE" default:""`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides, applying
// (in increasing precedence) defaults, an optional YAML file, environment
// variables, then the explicit overrides in opts.
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	cfg := defaultConfig()

	if opts.ConfigFile != "" {
		if err := mergeYAMLFile(cfg, opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.Server.Host = getOverrideOrEnv(opts.Host, "VNC_HOST", cfg.Server.Host)
	cfg.Server.Port = getIntOverrideOrEnv(opts.Port, "VNC_PORT", cfg.Server.Port)
	cfg.VNC.Password = getOverrideOrEnv(opts.Password, "VNC_PASSWORD", cfg.VNC.Password)
	cfg.VNC.NetworkProfileOverride = NetworkProfile(getOverrideOrEnv(
		opts.NetworkProfileOverride, "VNC_NETWORK_PROFILE", string(cfg.VNC.NetworkProfileOverride)))
	cfg.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", cfg.Logging.Level)

	if opts.MaxConnections > 0 {
		cfg.VNC.MaxConnections = opts.MaxConnections
	} else if v := getEnvWithDefault("VNC_MAX_CONNECTIONS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VNC.MaxConnections = n
		}
	}

	if opts.EnableWebSocket != nil {
		cfg.WebSocket.Enable = *opts.EnableWebSocket
	} else if v := getEnvWithDefault("VNC_ENABLE_WEBSOCKET", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WebSocket.Enable = b
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = cfg
	configMutex.Unlock()

	return cfg, nil
}

// GetGlobalConfig returns the most recently loaded configuration, or nil if
// none has been loaded yet.
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.VNC.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}

	if c.VNC.FrameRate <= 0 || c.VNC.LANFrameRate <= 0 {
		return fmt.Errorf("frame rates must be positive")
	}

	if c.VNC.ScaleFactor <= 0 {
		return fmt.Errorf("scale factor must be positive")
	}

	switch c.VNC.NetworkProfileOverride {
	case ProfileAuto, ProfileLocalhost, ProfileLAN, ProfileWAN:
	default:
		return fmt.Errorf("invalid network profile override: %q", c.VNC.NetworkProfileOverride)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 5900},
		VNC: VNCConfig{
			Password:                "",
			FrameRate:               30,
			LANFrameRate:            60,
			NetworkProfileOverride:  ProfileAuto,
			ScaleFactor:             1.0,
			MaxConnections:          10,
			EnableRegionDetection:   true,
			EnableCursorEncoding:    false,
			EnableTightEncoding:     false,
			EnableJPEGEncoding:      false,
			EnableH264Encoding:      false,
			EnableParallelEncoding:  false,
			TightDisableForUltraVNC: true,
			EncodingThreads:         0,
			MaxSetEncodings:         32,
			MaxClientCutText:        1 << 20,
			ClientSocketTimeout:     30 * time.Second,
			EnableRequestCoalescing: true,
			ShutdownGracePeriod:     5 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enable:            true,
			DetectTimeout:     250 * time.Millisecond,
			MaxHandshakeBytes: 16384,
			MaxPayloadBytes:   4 << 20,
			MaxBufferBytes:    16 << 20,
		},
		LAN: LANTuningConfig{
			RawAreaThreshold:     0.02,
			RawMaxPixels:         16384,
			PreferZlib:           true,
			ZlibAreaThreshold:    0.10,
			ZlibMinPixels:        4096,
			ZlibCompressionLevel: 6,
			ZlibWarmupRequests:   3,
			JPEGAreaThreshold:    0.25,
			JPEGMinPixels:        16384,
			JPEGQualityInitial:   70,
			JPEGQualityMin:       30,
			JPEGQualityMax:       90,
			ZRLECompressionLevel: 3,
		},
		Logging: LoggingConfig{Level: "info", File: ""},
	}
}

func getOverrideOrEnv(override, envKey, fallback string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, fallback)
}

func getIntOverrideOrEnv(override, envKey string, fallback int) int {
	if override != "" {
		if n, err := strconv.Atoi(override); err == nil {
			return n
		}
	}
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvWithDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
