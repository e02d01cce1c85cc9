// Package config loads the settings of the command line tools.
//
// Settings are read from a YAML file layered over defaults, then overridden by
// environment variables:
//
//	MQTT_URL, MQTT_CLIENT_ID, MQTT_USERNAME, MQTT_PASSWORD, MQTT_KEEP_ALIVE,
//	MQTT_INSECURE, MQTT_WINDOW, MQTT_RECONNECT, MQTT_METRICS_URL, MQTT_LOG_LEVEL
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	mqtt "github.com/golang-io/iotmqtt"
	"github.com/golang-io/iotmqtt/packet"
	"github.com/golang-io/iotmqtt/topic"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker        BrokerConfig         `yaml:"broker"`
	Session       SessionConfig        `yaml:"session"`
	Flow          FlowConfig           `yaml:"flow"`
	Reconnect     ReconnectConfig      `yaml:"reconnect"`
	Will          WillConfig           `yaml:"will"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Log           LogConfig            `yaml:"log"`
	Server        ServerConfig         `yaml:"server"`
}

type BrokerConfig struct {
	URL      string            `yaml:"url" env:"MQTT_URL"`
	Username string            `yaml:"username" env:"MQTT_USERNAME"`
	Password string            `yaml:"password" env:"MQTT_PASSWORD"`
	Header   map[string]string `yaml:"header"`

	// Insecure skips certificate verification on mqtts and wss.
	Insecure bool `yaml:"insecure" env:"MQTT_INSECURE"`
}

type SessionConfig struct {
	ClientID       string        `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	CleanSession   bool          `yaml:"clean_session"`
	KeepAlive      time.Duration `yaml:"keep_alive" env:"MQTT_KEEP_ALIVE"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxPacketSize  int           `yaml:"max_packet_size"`
}

type FlowConfig struct {
	Window     int           `yaml:"window" env:"MQTT_WINDOW"`
	MaxQueued  int           `yaml:"max_queued"`
	AckTimeout time.Duration `yaml:"ack_timeout"`
	MaxRetries int           `yaml:"max_retries"`

	// Block makes publishers wait for a window slot instead of queueing.
	Block bool `yaml:"block"`

	// Reject fails requests made while disconnected instead of queueing them.
	Reject bool `yaml:"reject"`
}

type ReconnectConfig struct {
	Enabled bool          `yaml:"enabled" env:"MQTT_RECONNECT"`
	Min     time.Duration `yaml:"min"`
	Max     time.Duration `yaml:"max"`
}

// WillConfig is used when Topic is set.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

type SubscriptionConfig struct {
	Filter string `yaml:"filter"`
	QoS    byte   `yaml:"qos"`
}

type MetricsConfig struct {
	// URL is where /metrics is served, e.g. http://127.0.0.1:9090. Empty disables it.
	URL string `yaml:"url" env:"MQTT_METRICS_URL"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"MQTT_LOG_LEVEL"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig is read by mqtt-server only.
type ServerConfig struct {
	TCP       string `yaml:"tcp"`
	WebSocket string `yaml:"websocket"`
	Keep      int    `yaml:"keep"`
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL: "mqtt://127.0.0.1:1883",
		},
		Session: SessionConfig{
			CleanSession:   true,
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Flow: FlowConfig{
			Window:     16,
			MaxQueued:  1024,
			AckTimeout: 10 * time.Second,
			MaxRetries: 3,
		},
		Reconnect: ReconnectConfig{
			Enabled: true,
			Min:     time.Second,
			Max:     2 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			TCP:       "127.0.0.1:1883",
			WebSocket: "127.0.0.1:8083",
			Keep:      1024,
		},
	}
}

// Validate reports every setting the client cannot run with.
func (c *Config) Validate() error {
	var errs []string

	u, err := url.Parse(c.Broker.URL)
	if err != nil {
		errs = append(errs, fmt.Sprintf("broker.url: %v", err))
	} else {
		switch u.Scheme {
		case "mqtt", "tcp", "mqtts", "tls", "ssl", "ws", "wss":
		default:
			errs = append(errs, fmt.Sprintf("broker.url: unsupported scheme %q", u.Scheme))
		}
	}

	if c.Session.KeepAlive < 0 || c.Session.KeepAlive > 0xFFFF*time.Second {
		errs = append(errs, "session.keep_alive must be between 0s and 65535s")
	}
	if c.Session.ConnectTimeout <= 0 {
		errs = append(errs, "session.connect_timeout must be positive")
	}
	if c.Session.MaxPacketSize < 0 {
		errs = append(errs, "session.max_packet_size must not be negative")
	}
	if c.Flow.Window < 1 {
		errs = append(errs, "flow.window must be at least 1")
	}
	if c.Flow.MaxRetries < 0 {
		errs = append(errs, "flow.max_retries must not be negative")
	}
	if c.Flow.AckTimeout <= 0 {
		errs = append(errs, "flow.ack_timeout must be positive")
	}
	if c.Reconnect.Enabled && (c.Reconnect.Min <= 0 || c.Reconnect.Max < c.Reconnect.Min) {
		errs = append(errs, "reconnect.min must be positive and not above reconnect.max")
	}

	if c.Will.Topic != "" {
		if err := topic.ValidateTopic(c.Will.Topic); err != nil {
			errs = append(errs, fmt.Sprintf("will.topic: %v", err))
		}
		if c.Will.QoS > 2 {
			errs = append(errs, "will.qos must be 0, 1, or 2")
		}
	}
	for i, s := range c.Subscriptions {
		if err := topic.ValidateFilter(s.Filter); err != nil {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].filter: %v", i, err))
		}
		if s.QoS > 2 {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	if _, err := c.Log.level(); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	level, _ := c.Log.level()
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Options converts the configuration into client options.
func (c *Config) Options() []mqtt.Option {
	opts := []mqtt.Option{
		mqtt.URL(c.Broker.URL),
		mqtt.CleanSession(c.Session.CleanSession),
		mqtt.KeepAlive(c.Session.KeepAlive),
		mqtt.PingTimeout(c.Session.PingTimeout),
		mqtt.ConnectTimeout(c.Session.ConnectTimeout),
		mqtt.WriteTimeout(c.Session.WriteTimeout),
		mqtt.MaxPacketSize(c.Session.MaxPacketSize),
		mqtt.Window(c.Flow.Window),
		mqtt.MaxQueued(c.Flow.MaxQueued),
		mqtt.Retry(c.Flow.AckTimeout, c.Flow.MaxRetries),
	}
	if c.Session.ClientID != "" {
		opts = append(opts, mqtt.ClientID(c.Session.ClientID))
	}
	if c.Broker.Username != "" || c.Broker.Password != "" {
		opts = append(opts, mqtt.Auth(c.Broker.Username, c.Broker.Password))
	}
	for k, v := range c.Broker.Header {
		opts = append(opts, mqtt.Header(k, v))
	}
	if c.Broker.Insecure {
		opts = append(opts, mqtt.TLSConfig(insecureTLS()))
	}
	if c.Flow.Block {
		opts = append(opts, mqtt.Admission(mqtt.PublishBlock))
	}
	if c.Flow.Reject {
		opts = append(opts, mqtt.Offline(mqtt.OfflineReject))
	}
	if c.Reconnect.Enabled {
		opts = append(opts, mqtt.AutoReconnect(c.Reconnect.Min, c.Reconnect.Max))
	}
	if w := c.Will; w.Topic != "" {
		opts = append(opts, mqtt.LastWill(w.Topic, []byte(w.Payload), w.QoS, w.Retain))
	}
	if len(c.Subscriptions) > 0 {
		subs := make([]packet.Subscription, 0, len(c.Subscriptions))
		for _, s := range c.Subscriptions {
			subs = append(subs, packet.Subscription{TopicFilter: s.Filter, MaximumQoS: s.QoS})
		}
		opts = append(opts, mqtt.Subscriptions(subs...))
	}
	return opts
}

func insecureTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test brokers
}
