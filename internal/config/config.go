package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/sector"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SlackConfig struct {
	BotToken      string
	ChannelID     string
	SigningSecret string
}

type HTTPConfig struct {
	Addr string
}

type IntervalConfig struct {
	Monitor  time.Duration
	Dispatch time.Duration
	Stream   time.Duration
	Store    time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level   string
	Console bool
}

// PollerConfig is used by the remote climate poller only.
type PollerConfig struct {
	ChamberID  string
	ServiceURL string
}

// ChamberConfig is one entry of the chambers bootstrap file.
type ChamberConfig struct {
	Name        string              `json:"name" yaml:"name"`
	Sectors     sector.Config       `json:"sectors" yaml:"sectors"`
	Controllers []models.Controller `json:"controllers" yaml:"controllers"`
}

// Model converts the entry to a chamber row.
func (c ChamberConfig) Model() *models.Chamber {
	return &models.Chamber{
		Name:        c.Name,
		Sectors:     datatypes.NewJSONType(c.Sectors),
		Controllers: datatypes.NewJSONType(c.Controllers),
	}
}

type Config struct {
	MQTT            MQTTConfig
	Database        DatabaseConfig
	Slack           SlackConfig
	HTTP            HTTPConfig
	Interval        IntervalConfig
	Kafka           KafkaConfig
	Log             LogConfig
	Poller          PollerConfig
	Timezone        string
	ChambersCfgPath string
	Chambers        []ChamberConfig `mapstructure:"-"`
}

var bindings = []struct{ key, env string }{
	{"database.host", "DB_HOST"},
	{"database.port", "DB_PORT"},
	{"database.user", "DB_USER"},
	{"database.password", "DB_PASSWORD"},
	{"database.dbname", "DB_NAME"},
	{"database.sslmode", "DB_SSLMODE"},

	{"mqtt.broker", "MQTT_BROKER"},
	{"mqtt.clientid", "MQTT_CLIENT_ID"},
	{"mqtt.username", "MQTT_USERNAME"},
	{"mqtt.password", "MQTT_PASSWORD"},
	{"mqtt.topicprefix", "MQTT_TOPIC_PREFIX"},

	{"slack.bottoken", "SLACK_BOT_TOKEN"},
	{"slack.channelid", "SLACK_CHANNEL_ID"},
	{"slack.signingsecret", "SLACK_SIGNING_SECRET"},

	{"http.addr", "HTTP_ADDR"},
	{"timezone", "TIMEZONE"},
	{"interval.monitor", "MONITOR_INTERVAL"},
	{"interval.dispatch", "DISPATCH_INTERVAL"},
	{"interval.stream", "STREAM_INTERVAL"},
	{"interval.store", "STORE_TIMEOUT"},

	{"kafka.brokers", "KAFKA_BROKERS"},
	{"kafka.topic", "KAFKA_TOPIC"},

	{"log.level", "LOG_LEVEL"},
	{"log.console", "LOG_CONSOLE"},

	{"poller.chamberid", "CHAMBER_ID"},
	{"poller.serviceurl", "SERVICE_URL"},

	{"chamberscfgpath", "CHAMBERS_CONFIG_PATH"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("mqtt.clientid", "growth-chamber-control")
	v.SetDefault("mqtt.topicprefix", "chambers")
	v.SetDefault("http.addr", ":3005")
	v.SetDefault("timezone", "Asia/Bangkok")
	v.SetDefault("interval.monitor", "60s")
	v.SetDefault("interval.dispatch", "60s")
	v.SetDefault("interval.stream", "3s")
	v.SetDefault("interval.store", "5s")
	v.SetDefault("kafka.topic", "chamber.events")
	v.SetDefault("log.level", "info")
	v.SetDefault("poller.serviceurl", "http://localhost:3005")
}

// LoadConfig reads settings from the environment, plus .env.local when
// APP_ENV is unset or "local", and loads the chambers file if one is named.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for _, b := range bindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	if env == "local" {
		if err := readEnvFile(v, ".env.local"); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// comma separated brokers arrive as a single element from .env files
	config.Kafka.Brokers = splitList(config.Kafka.Brokers)

	if config.ChambersCfgPath != "" {
		chambers, err := LoadChambers(config.ChambersCfgPath)
		if err != nil {
			return nil, err
		}
		config.Chambers = chambers
	}
	return &config, nil
}

// readEnvFile loads KEY=value pairs from path. Real environment variables
// keep precedence over the file.
func readEnvFile(v *viper.Viper, path string) error {
	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	for _, b := range bindings {
		if _, set := os.LookupEnv(b.env); set {
			continue
		}
		if name := strings.ToLower(b.env); file.IsSet(name) {
			v.Set(b.key, file.Get(name))
		}
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type chambersFile struct {
	Chambers []ChamberConfig `json:"chambers" yaml:"chambers"`
}

// LoadChambers parses the chambers bootstrap file. Files ending in .yaml or
// .yml are read as YAML, anything else as JSON.
func LoadChambers(path string) ([]ChamberConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chambers config file '%s': %w", path, err)
	}

	var f chambersFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse chambers config '%s': %w", path, err)
	}

	seen := make(map[string]bool, len(f.Chambers))
	for _, c := range f.Chambers {
		if c.Name == "" {
			return nil, fmt.Errorf("chambers config '%s': chamber without a name", path)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("chambers config '%s': duplicate chamber %q", path, c.Name)
		}
		seen[c.Name] = true
		if _, err := sector.Derive(c.Sectors); err != nil {
			return nil, fmt.Errorf("chambers config '%s': chamber %q: %w", path, c.Name, err)
		}
		for _, ctl := range c.Controllers {
			if ctl.Family != models.FamilyESPHome && ctl.Family != models.FamilyClimate {
				return nil, fmt.Errorf("chambers config '%s': controller %q: unknown family %q", path, ctl.Name, ctl.Family)
			}
		}
	}
	return f.Chambers, nil
}

// ValidatePoller checks the settings the climate poller cannot run without.
func (cfg *Config) ValidatePoller() error {
	if cfg.Poller.ChamberID == "" {
		return errors.New("CHAMBER_ID is required")
	}
	if cfg.Interval.Dispatch <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must be positive, got %s", cfg.Interval.Dispatch)
	}
	return nil
}

// Location resolves the configured timezone.
func (cfg *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}
	return loc, nil
}

// DSN returns the PostgreSQL connection string
func (cfg *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Database.Host,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.Port,
		cfg.Database.SSLMode,
	)
}
