// Package config provides configuration management for facescan.
// It loads configuration from YAML files with sensible defaults, then applies
// overrides from the environment (optionally seeded from a .env file).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvKnownFacesDir = "FACESCAN_KNOWN_FACES_DIR"
	EnvDatabaseDir   = "FACESCAN_DATABASE_DIR"
	EnvThreshold     = "FACESCAN_THRESHOLD"
	EnvLogLevel      = "FACESCAN_LOG_LEVEL"
)

// Config holds all facescan configuration.
type Config struct {
	Paths        PathsConfig        `yaml:"paths"`
	Enrollment   EnrollmentConfig   `yaml:"enrollment"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Video        VideoConfig        `yaml:"video"`
	Storage      StorageConfig      `yaml:"storage"`
	Acceleration AccelerationConfig `yaml:"acceleration"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// PathsConfig holds the input and output directories.
type PathsConfig struct {
	KnownFacesDir string `yaml:"known_faces_dir"`
	DatabaseDir   string `yaml:"database_dir"`
}

// EnrollmentConfig holds enrollment settings.
type EnrollmentConfig struct {
	TargetName string `yaml:"target_name"`
	ImageSize  int    `yaml:"image_size"`
}

// RecognitionConfig holds embedding and detection model settings.
type RecognitionConfig struct {
	Provider         string  `yaml:"provider"` // "arcface" or "dlib"
	Detector         string  `yaml:"detector"` // "yunet" or "pigo"
	Threshold        float64 `yaml:"threshold"`
	ModelPath        string  `yaml:"model_path"`
	ArcFaceModel     string  `yaml:"arcface_model"`
	YuNetModel       string  `yaml:"yunet_model"`
	PigoCascade      string  `yaml:"pigo_cascade"`
	PigoQualityScale float64 `yaml:"pigo_quality_scale"`
}

// VideoConfig holds video sampling settings.
type VideoConfig struct {
	SampleInterval      time.Duration `yaml:"sample_interval"`
	DetectionConfidence float64       `yaml:"detection_confidence"`
	FaceSize            int           `yaml:"face_size"`
}

// StorageConfig holds database storage settings.
type StorageConfig struct {
	EncryptionEnabled bool `yaml:"encryption_enabled"`
}

// AccelerationConfig holds DNN backend settings.
type AccelerationConfig struct {
	Backend       string `yaml:"backend"`
	FallbackToCPU bool   `yaml:"fallback_to_cpu"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facescan")
	return &Config{
		Paths: PathsConfig{
			KnownFacesDir: filepath.Join(dataDir, "known_faces"),
			DatabaseDir:   filepath.Join(dataDir, "known_db"),
		},
		Enrollment: EnrollmentConfig{
			ImageSize: 112,
		},
		Recognition: RecognitionConfig{
			Provider:         "arcface",
			Detector:         "yunet",
			Threshold:        0.5,
			ModelPath:        filepath.Join(dataDir, "models"),
			ArcFaceModel:     "arcfaceresnet100-8.onnx",
			YuNetModel:       "face_detection_yunet_2023mar.onnx",
			PigoCascade:      "facefinder",
			PigoQualityScale: 10,
		},
		Video: VideoConfig{
			SampleInterval:      5 * time.Second,
			DetectionConfidence: 0.7,
			FaceSize:            112,
		},
		Storage: StorageConfig{
			EncryptionEnabled: false,
		},
		Acceleration: AccelerationConfig{
			Backend:       "auto",
			FallbackToCPU: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facescan/facescan.yaml"); err == nil {
		return Load("/etc/facescan/facescan.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facescan/facescan.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ApplyEnv loads an optional .env file from the working directory and applies
// FACESCAN_* overrides on top of the loaded configuration.
func (c *Config) ApplyEnv() error {
	// .env is optional
	_ = godotenv.Load()

	if v := os.Getenv(EnvKnownFacesDir); v != "" {
		c.Paths.KnownFacesDir = v
	}
	if v := os.Getenv(EnvDatabaseDir); v != "" {
		c.Paths.DatabaseDir = v
	}
	if v := os.Getenv(EnvThreshold); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvThreshold, v, err)
		}
		c.Recognition.Threshold = threshold
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Paths.KnownFacesDir == "" {
		return fmt.Errorf("known_faces_dir must be set")
	}
	if c.Paths.DatabaseDir == "" {
		return fmt.Errorf("database_dir must be set")
	}

	if c.Enrollment.ImageSize <= 0 {
		return fmt.Errorf("invalid enrollment image size: %d", c.Enrollment.ImageSize)
	}

	validProviders := map[string]bool{"arcface": true, "dlib": true}
	if !validProviders[c.Recognition.Provider] {
		return fmt.Errorf("invalid provider: %s (must be arcface or dlib)", c.Recognition.Provider)
	}
	validDetectors := map[string]bool{"yunet": true, "pigo": true}
	if !validDetectors[c.Recognition.Detector] {
		return fmt.Errorf("invalid detector: %s (must be yunet or pigo)", c.Recognition.Detector)
	}
	if c.Recognition.Threshold < -1 || c.Recognition.Threshold > 1 {
		return fmt.Errorf("threshold must be between -1 and 1, got %f", c.Recognition.Threshold)
	}
	if c.Recognition.PigoQualityScale <= 0 {
		return fmt.Errorf("pigo_quality_scale must be positive, got %f", c.Recognition.PigoQualityScale)
	}

	if c.Video.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be positive, got %s", c.Video.SampleInterval)
	}
	if c.Video.DetectionConfidence < 0 || c.Video.DetectionConfidence > 1 {
		return fmt.Errorf("detection_confidence must be between 0 and 1, got %f", c.Video.DetectionConfidence)
	}
	if c.Video.FaceSize <= 0 {
		return fmt.Errorf("invalid face size: %d", c.Video.FaceSize)
	}

	validBackends := map[string]bool{"auto": true, "cpu": true, "cuda": true, "openvino": true, "opencl": true}
	if !validBackends[c.Acceleration.Backend] {
		return fmt.Errorf("invalid acceleration backend: %s (must be auto, cpu, cuda, openvino, or opencl)", c.Acceleration.Backend)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Paths.KnownFacesDir = ExpandPath(c.Paths.KnownFacesDir)
	c.Paths.DatabaseDir = ExpandPath(c.Paths.DatabaseDir)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the known-faces, database and model directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.KnownFacesDir, 0755); err != nil {
		return fmt.Errorf("failed to create known faces directory: %w", err)
	}

	if err := os.MkdirAll(c.Paths.DatabaseDir, 0700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	return nil
}

// ModelFile returns the absolute path of a model file inside the model directory.
// Absolute names are returned unchanged.
func (c *Config) ModelFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Recognition.ModelPath, name)
}

// PersonDir returns the known-faces folder for an identifier.
func (c *Config) PersonDir(identifier string) string {
	return filepath.Join(c.Paths.KnownFacesDir, identifier)
}
