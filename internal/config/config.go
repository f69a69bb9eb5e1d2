package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	TempDir   string `yaml:"temp_dir"`
	OutputDir string `yaml:"output_dir"`
	LogLevel  string `yaml:"log_level"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`

	// Export pipeline settings
	Export ExportConfig `yaml:"export"`

	// Tracer appearance
	Tracer TracerConfig `yaml:"tracer"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ProbePath  string `yaml:"probe_path"`
	Threads    int    `yaml:"threads"`
}

type ExportConfig struct {
	Quality            string  `yaml:"quality"`
	BatchSize          int     `yaml:"batch_size"`
	DeadlineSeconds    int     `yaml:"deadline_seconds"`
	MaxFrames          int     `yaml:"max_frames"`
	MinFPS             float64 `yaml:"min_fps"`
	MaxHeight          int     `yaml:"max_height"`
	DownscaleThreshold int64   `yaml:"downscale_threshold"`
}

// Deadline returns the wall-clock budget for a single clip export.
func (e ExportConfig) Deadline() time.Duration {
	return time.Duration(e.DeadlineSeconds) * time.Second
}

type TracerConfig struct {
	Color string  `yaml:"color"`
	Width float64 `yaml:"width"`
}

// Load reads configuration from file or returns defaults. A .env file in the
// working directory is honored first so env overrides work without exporting.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SHOTTRACE_FFMPEG"); v != "" {
		c.FFmpeg.BinaryPath = v
	}
	if v := os.Getenv("SHOTTRACE_FFPROBE"); v != "" {
		c.FFmpeg.ProbePath = v
	}
	if v := os.Getenv("SHOTTRACE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SHOTTRACE_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
}

func defaultConfig() *Config {
	return &Config{
		TempDir:   "./temp",
		OutputDir: "./output",
		LogLevel:  "info",
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
		},
		Export: ExportConfig{
			Quality:            "preview",
			BatchSize:          10,
			DeadlineSeconds:    180,
			MaxFrames:          450,
			MinFPS:             24,
			MaxHeight:          1080,
			DownscaleThreshold: 50 << 20,
		},
		Tracer: TracerConfig{
			Color: "#FF2D2D",
			Width: 6,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".shottrace", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
