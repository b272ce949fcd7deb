package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/logging"
)

// Config is the complete runtime configuration
type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
	FMI      FMIConfig      `envPrefix:"FMI_"`
	Playback PlaybackConfig `envPrefix:"PLAYBACK_"`
	Radar    RadarConfig    `envPrefix:"RADAR_"`
	MQTT     MQTTConfig     `envPrefix:"MQTT_"`
	Display  DisplayConfig  `envPrefix:"DISPLAY_"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host        string        `env:"HOST" envDefault:"0.0.0.0"`
	Port        int           `env:"PORT" envDefault:"8080"`
	ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	TilesDir    string        `env:"TILES_DIR"`
}

// DatabaseConfig configures preference and refresh-run storage
type DatabaseConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite3"`
	Host            string        `env:"HOST" envDefault:"localhost"`
	Port            int           `env:"PORT" envDefault:"5432"`
	User            string        `env:"USER" envDefault:"radar"`
	Password        string        `env:"PASSWORD"`
	Database        string        `env:"NAME" envDefault:"radar"`
	SSLMode         string        `env:"SSLMODE" envDefault:"disable"`
	Path            string        `env:"PATH" envDefault:"radar.db"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	RunRetention    time.Duration `env:"RUN_RETENTION" envDefault:"168h"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// FMIConfig configures the open data endpoints
type FMIConfig struct {
	WFSURL       string        `env:"WFS_URL" envDefault:"https://opendata.fmi.fi/wfs"`
	WMSURL       string        `env:"WMS_URL" envDefault:"https://openwms.fmi.fi/geoserver/Radar/wms"`
	RadarLayer   string        `env:"RADAR_LAYER" envDefault:"Radar:suomi_dbz_eureffin"`
	BBox         string        `env:"BBOX" envDefault:"19,59,32,71"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	WindowLength time.Duration `env:"WINDOW" envDefault:"30m"`
	UserAgent    string        `env:"USER_AGENT" envDefault:"radar-viewer/1.0"`
}

// PlaybackConfig configures refresh and animation timing
type PlaybackConfig struct {
	RefreshInterval    time.Duration `env:"REFRESH_INTERVAL" envDefault:"2m"`
	AnimationInterval  time.Duration `env:"ANIMATION_INTERVAL" envDefault:"1s"`
	RadarTimesInterval time.Duration `env:"RADAR_TIMES_INTERVAL" envDefault:"10m"`
	HistoryStep        time.Duration `env:"HISTORY_STEP" envDefault:"5m"`
	MaxHistorySteps    int           `env:"MAX_HISTORY_STEPS" envDefault:"12"`
	MaxStrikeAge       time.Duration `env:"MAX_STRIKE_AGE" envDefault:"15m"`
	PreloadWidth       int           `env:"PRELOAD_WIDTH" envDefault:"1024"`
	PreloadHeight      int           `env:"PRELOAD_HEIGHT" envDefault:"1024"`
	PreloadBBox        string        `env:"PRELOAD_BBOX" envDefault:"-548576,6291456,1548576,8388608"`
	PreloadConcurrency int           `env:"PRELOAD_CONCURRENCY" envDefault:"4"`
}

// RadarConfig configures the frame cache
type RadarConfig struct {
	CacheEnabled bool `env:"CACHE_ENABLED" envDefault:"true"`
	MaxFrames    int  `env:"CACHE_MAX_FRAMES" envDefault:"64"`
}

// MQTTConfig configures the optional refresh event publisher; an empty broker disables it
type MQTTConfig struct {
	Broker   string        `env:"BROKER"`
	ClientID string        `env:"CLIENT_ID" envDefault:"radar-viewer"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	Topic    string        `env:"TOPIC" envDefault:"radar/refresh"`
	QoS      byte          `env:"QOS" envDefault:"0"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

// DisplayConfig configures user facing formatting
type DisplayConfig struct {
	TimeZone string   `env:"TIMEZONE" envDefault:"Europe/Helsinki"`
	Layers   []string `env:"LAYERS" envDefault:"temperature,wind,clouds,humidity,pressure" envSeparator:","`
}

// LoadConfig reads an optional .env file (path from ENV_FILE) and then the environment
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

var knownLayers = map[string]bool{
	"temperature": true,
	"wind":        true,
	"clouds":      true,
	"humidity":    true,
	"pressure":    true,
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d out of range", c.Server.Port))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required for postgres"))
		}
	case "sqlite3":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite3"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.Database.Driver))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or text", c.Logging.Format))
	}

	if c.FMI.Timeout <= 0 {
		errs = append(errs, errors.New("FMI_TIMEOUT must be positive"))
	}
	if len(strings.Split(c.FMI.BBox, ",")) != 4 {
		errs = append(errs, fmt.Errorf("FMI_BBOX %q must have four comma separated values", c.FMI.BBox))
	}

	if c.Playback.RefreshInterval <= 0 || c.Playback.AnimationInterval <= 0 || c.Playback.RadarTimesInterval <= 0 {
		errs = append(errs, errors.New("playback intervals must be positive"))
	}
	if c.Playback.HistoryStep <= 0 {
		errs = append(errs, errors.New("PLAYBACK_HISTORY_STEP must be positive"))
	}
	if c.Playback.MaxHistorySteps < 1 {
		errs = append(errs, errors.New("PLAYBACK_MAX_HISTORY_STEPS must be at least 1"))
	}
	if c.Playback.PreloadWidth <= 0 || c.Playback.PreloadHeight <= 0 {
		errs = append(errs, errors.New("preload viewport size must be positive"))
	}
	if len(strings.Split(c.Playback.PreloadBBox, ",")) != 4 {
		errs = append(errs, fmt.Errorf("PLAYBACK_PRELOAD_BBOX %q must have four comma separated values", c.Playback.PreloadBBox))
	}
	if c.Playback.PreloadConcurrency < 1 {
		errs = append(errs, errors.New("PLAYBACK_PRELOAD_CONCURRENCY must be at least 1"))
	}

	if c.Radar.MaxFrames < 1 {
		errs = append(errs, errors.New("RADAR_CACHE_MAX_FRAMES must be at least 1"))
	}

	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS %d must be 0, 1 or 2", c.MQTT.QoS))
	}

	if _, err := time.LoadLocation(c.Display.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("DISPLAY_TIMEZONE: %w", err))
	}
	for _, l := range c.Display.Layers {
		if !knownLayers[strings.TrimSpace(l)] {
			errs = append(errs, fmt.Errorf("DISPLAY_LAYERS: unknown layer %q", l))
		}
	}

	return errors.Join(errs...)
}

// Location returns the display time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Display.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DBConfig converts the database section into a pkg/database config
func (c *Config) DBConfig() *database.Config {
	return &database.Config{
		Driver:          c.Database.Driver,
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// NewLogger builds the structured logger described by the logging section
func (c *Config) NewLogger(service, version string) *logging.StructuredLogger {
	return logging.NewStructuredLoggerWithFormat(service, version, logging.ParseLevel(c.Logging.Level), logging.Format(c.Logging.Format))
}
