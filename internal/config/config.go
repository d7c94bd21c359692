package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Conf holds the configuration loaded at startup. Hot reloads do not
// replace it; use Current or OnChange for reloaded values.
var Conf *Config

var current atomic.Pointer[Config]

var (
	listenersMu sync.Mutex
	listeners   []func(*Config)
)

// Config struct is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Detection DetectionConfig `mapstructure:"detection"`
	Signals   SignalsConfig   `mapstructure:"signals"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	SessionSecret  string   `mapstructure:"session_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminToken     string   `mapstructure:"admin_token"`
	RateLimit      uint     `mapstructure:"rate_limit"`
	Production     bool     `mapstructure:"production"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver        string        `mapstructure:"driver"`
	Host          string        `mapstructure:"host"`
	Port          string        `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	DBName        string        `mapstructure:"dbname"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DetectionConfig is the tunable threshold table of the classifier and the
// escalation tracker.
type DetectionConfig struct {
	WindowCapacity      int           `mapstructure:"window_capacity"`
	AutoSubmitThreshold int           `mapstructure:"auto_submit_threshold"`
	AutoSubmitReason    string        `mapstructure:"auto_submit_reason"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`

	Face struct {
		Enabled  bool          `mapstructure:"enabled"`
		Cooldown time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"face"`

	MultipleFaces struct {
		Enabled    bool          `mapstructure:"enabled"`
		MaxAllowed int           `mapstructure:"max_allowed"`
		Cooldown   time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"multiple_faces"`

	Head struct {
		Enabled           bool          `mapstructure:"enabled"`
		AllowedAngle      float64       `mapstructure:"allowed_angle"`
		ConsecutiveFrames int           `mapstructure:"consecutive_frames"`
		GazeSamples       int           `mapstructure:"gaze_samples"`
		GazeRatio         float64       `mapstructure:"gaze_ratio"`
		Cooldown          time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"head"`

	Object struct {
		Enabled             bool          `mapstructure:"enabled"`
		ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
		MaxRelativeArea     float64       `mapstructure:"max_relative_area"`
		ProhibitedClasses   []string      `mapstructure:"prohibited_classes"`
		Cooldown            time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"object"`

	Audio struct {
		Enabled     bool          `mapstructure:"enabled"`
		Samples     int           `mapstructure:"samples"`
		SpeechRatio float64       `mapstructure:"speech_ratio"`
		Cooldown    time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"audio"`

	Focus struct {
		Enabled  bool          `mapstructure:"enabled"`
		Cooldown time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"focus"`
}

// SignalsConfig selects where frames and audio chunks are analyzed.
type SignalsConfig struct {
	// Mode is "http", "none" or "demo".
	Mode        string        `mapstructure:"mode"`
	DetectorURL string        `mapstructure:"detector_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DemoScript  string        `mapstructure:"demo_script"`
}

// Policy converts the detection section into the classifier's policy.
func (d DetectionConfig) Policy() proctor.Policy {
	p := proctor.DefaultPolicy()
	p.WindowCapacity = d.WindowCapacity
	p.AutoSubmitThreshold = d.AutoSubmitThreshold
	p.AutoSubmitReason = d.AutoSubmitReason

	p.Face.Enabled = d.Face.Enabled
	p.Face.Cooldown = d.Face.Cooldown

	p.MultipleFaces.Enabled = d.MultipleFaces.Enabled
	p.MultipleFaces.MaxAllowed = d.MultipleFaces.MaxAllowed
	p.MultipleFaces.Cooldown = d.MultipleFaces.Cooldown

	p.Head.Enabled = d.Head.Enabled
	p.Head.AllowedAngle = d.Head.AllowedAngle
	p.Head.ConsecutiveFrames = d.Head.ConsecutiveFrames
	p.Head.GazeSamples = d.Head.GazeSamples
	p.Head.GazeRatio = d.Head.GazeRatio
	p.Head.Cooldown = d.Head.Cooldown

	p.Object.Enabled = d.Object.Enabled
	p.Object.ConfidenceThreshold = d.Object.ConfidenceThreshold
	p.Object.MaxRelativeArea = d.Object.MaxRelativeArea
	if len(d.Object.ProhibitedClasses) > 0 {
		p.Object.ProhibitedClasses = d.Object.ProhibitedClasses
	}
	p.Object.Cooldown = d.Object.Cooldown

	p.Audio.Enabled = d.Audio.Enabled
	p.Audio.Samples = d.Audio.Samples
	p.Audio.SpeechRatio = d.Audio.SpeechRatio
	p.Audio.Cooldown = d.Audio.Cooldown

	p.Focus.Enabled = d.Focus.Enabled
	p.Focus.Cooldown = d.Focus.Cooldown
	return p
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "5050")
	v.SetDefault("server.session_secret", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.rate_limit", 20) // requests per second per client
	v.SetDefault("server.production", false)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "user")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "proctor-db")
	v.SetDefault("database.sqlite_path", "data/proctor.db")
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	// Logging defaults
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true) // Compress old logs

	// Detection defaults
	p := proctor.DefaultPolicy()
	v.SetDefault("detection.window_capacity", p.WindowCapacity)
	v.SetDefault("detection.auto_submit_threshold", p.AutoSubmitThreshold)
	v.SetDefault("detection.auto_submit_reason", p.AutoSubmitReason)
	v.SetDefault("detection.idle_timeout", 15*time.Minute)
	v.SetDefault("detection.sweep_interval", time.Minute)

	v.SetDefault("detection.face.enabled", p.Face.Enabled)
	v.SetDefault("detection.face.cooldown", p.Face.Cooldown)

	v.SetDefault("detection.multiple_faces.enabled", p.MultipleFaces.Enabled)
	v.SetDefault("detection.multiple_faces.max_allowed", p.MultipleFaces.MaxAllowed)
	v.SetDefault("detection.multiple_faces.cooldown", p.MultipleFaces.Cooldown)

	v.SetDefault("detection.head.enabled", p.Head.Enabled)
	v.SetDefault("detection.head.allowed_angle", p.Head.AllowedAngle)
	v.SetDefault("detection.head.consecutive_frames", p.Head.ConsecutiveFrames)
	v.SetDefault("detection.head.gaze_samples", p.Head.GazeSamples)
	v.SetDefault("detection.head.gaze_ratio", p.Head.GazeRatio)
	v.SetDefault("detection.head.cooldown", p.Head.Cooldown)

	v.SetDefault("detection.object.enabled", p.Object.Enabled)
	v.SetDefault("detection.object.confidence_threshold", p.Object.ConfidenceThreshold)
	v.SetDefault("detection.object.max_relative_area", p.Object.MaxRelativeArea)
	v.SetDefault("detection.object.prohibited_classes", p.Object.ProhibitedClasses)
	v.SetDefault("detection.object.cooldown", p.Object.Cooldown)

	v.SetDefault("detection.audio.enabled", p.Audio.Enabled)
	v.SetDefault("detection.audio.samples", p.Audio.Samples)
	v.SetDefault("detection.audio.speech_ratio", p.Audio.SpeechRatio)
	v.SetDefault("detection.audio.cooldown", p.Audio.Cooldown)

	v.SetDefault("detection.focus.enabled", p.Focus.Enabled)
	v.SetDefault("detection.focus.cooldown", p.Focus.Cooldown)

	// Signal source defaults
	v.SetDefault("signals.mode", "none")
	v.SetDefault("signals.detector_url", "http://localhost:8001")
	v.SetDefault("signals.timeout", 5*time.Second)
	v.SetDefault("signals.demo_script", "config/demo_script.yaml")
}

// OnChange registers fn to run after every successful hot reload.
func OnChange(fn func(*Config)) {
	listenersMu.Lock()
	listeners = append(listeners, fn)
	listenersMu.Unlock()
}

func notify(c *Config) {
	listenersMu.Lock()
	fns := slices.Clone(listeners)
	listenersMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Load reads configuration from projectRoot/config without installing it
// globally or watching the file.
func Load(projectRoot string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// --- File Configuration ---
	v.AddConfigPath(filepath.Join(projectRoot, "config"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// --- Environment Variable Binding ---
	v.SetEnvPrefix("PROCTOR") // e.g., PROCTOR_SERVER_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// It's okay if the file doesn't exist; defaults and env vars will be used.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &c, v, nil
}

// Current returns the most recently loaded configuration.
func Current() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return Conf
}

// apply decodes v into a fresh Config, publishes it and notifies listeners.
func apply(v *viper.Viper) error {
	var next Config
	if err := v.Unmarshal(&next); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}
	current.Store(&next)
	notify(&next)
	return nil
}

// Init initializes the configuration with Viper.
func Init(projectRoot string, log *zap.Logger) error {
	c, v, err := Load(projectRoot)
	if err != nil {
		return err
	}
	Conf = c
	current.Store(c)

	// Set up a watch for configuration changes for hot-reloading
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading.", zap.String("file", e.Name))
		if err := apply(v); err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
		}
	})

	log.Info("Configuration loaded successfully",
		zap.String("database", c.Database.Driver),
		zap.String("signals", c.Signals.Mode),
	)
	return nil
}
