package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-io/iotmqtt/packet"
	"github.com/golang-io/iotmqtt/transport"
	"github.com/golang-io/requests"
)

// OfflinePolicy decides what happens to requests made while the session is not connected.
type OfflinePolicy int

const (
	// OfflineQueue holds subscribe, unsubscribe and publish requests and sends them
	// after the next successful CONNACK.
	OfflineQueue OfflinePolicy = iota

	// OfflineReject fails them with ErrNotConnected.
	OfflineReject
)

// PublishMode decides how QoS 1 and 2 publishes beyond the in-flight window are admitted.
type PublishMode int

const (
	// PublishQueue appends them to a bounded FIFO; a full queue fails with ErrQueueFull.
	PublishQueue PublishMode = iota

	// PublishBlock makes the caller wait for a free slot in the window.
	PublishBlock
)

// Credentials are presented on every (re)connect.
type Credentials struct {
	Username string
	Password []byte

	// Header is merged into the WebSocket handshake, e.g. for a signed URL token.
	Header http.Header
}

// CredentialsProvider is called before each connection attempt.
type CredentialsProvider func(ctx context.Context) (Credentials, error)

// Will is the Last Will published by the broker when the connection drops without DISCONNECT.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type Options struct {
	URL      string
	ClientID string

	KeepAlive      time.Duration // 0 disables keep-alive
	PingTimeout    time.Duration // 0 means KeepAlive/2, at least one second
	ConnectTimeout time.Duration // dial plus CONNACK
	WriteTimeout   time.Duration
	CleanSession   bool

	Credentials CredentialsProvider
	Will        *Will
	TLSConfig   *tls.Config
	Header      http.Header
	Dialer      transport.Dialer

	Window     int // QoS 1/2 publishes awaiting acknowledgement
	MaxQueued  int // publishes waiting for a window slot; also bounds requests held offline
	AckTimeout time.Duration
	MaxRetries int

	Offline     OfflinePolicy
	PublishMode PublishMode

	AutoReconnect bool
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration

	DisconnectTimeout     time.Duration
	DisconnectOnMalformed bool
	MaxPacketSize         int // largest inbound packet in bytes, 0 for the protocol limit

	Subscriptions []packet.Subscription

	Logger    *slog.Logger
	Stat      *Stat
	OnStatus  func(StatusEvent)
	OnMessage MessageHandler
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		URL:                   "mqtt://127.0.0.1:1883",
		ClientID:              "mqtt-" + requests.GenId(),
		KeepAlive:             60 * time.Second,
		ConnectTimeout:        10 * time.Second,
		WriteTimeout:          transport.DefaultWriteTimeout,
		CleanSession:          true,
		Window:                16,
		MaxQueued:             1024,
		AckTimeout:            10 * time.Second,
		MaxRetries:            3,
		ReconnectMin:          time.Second,
		ReconnectMax:          2 * time.Minute,
		DisconnectTimeout:     5 * time.Second,
		DisconnectOnMalformed: true,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

// validate checks the options New cannot run with.
func (o *Options) validate() (*url.URL, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: url: %v", ErrInvalidArgument, err)
	}
	switch u.Scheme {
	case "mqtt", "tcp", "mqtts", "tls", "ssl", "ws", "wss":
	default:
		if o.Dialer == nil {
			return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidArgument, u.Scheme)
		}
	}
	switch {
	case len(o.ClientID) > 0xFFFF:
		return nil, fmt.Errorf("%w: client id too long", ErrInvalidArgument)
	case o.KeepAlive < 0 || o.KeepAlive > 0xFFFF*time.Second:
		return nil, fmt.Errorf("%w: keep alive %s out of range", ErrInvalidArgument, o.KeepAlive)
	case o.Window < 1:
		return nil, fmt.Errorf("%w: window must be at least 1", ErrInvalidArgument)
	case o.MaxQueued < 0:
		return nil, fmt.Errorf("%w: negative queue size", ErrInvalidArgument)
	case o.MaxPacketSize < 0:
		return nil, fmt.Errorf("%w: negative packet size", ErrInvalidArgument)
	case o.AckTimeout <= 0 || o.ConnectTimeout <= 0:
		return nil, fmt.Errorf("%w: timeouts must be positive", ErrInvalidArgument)
	case o.MaxRetries < 0:
		return nil, fmt.Errorf("%w: negative retries", ErrInvalidArgument)
	case o.AutoReconnect && (o.ReconnectMin <= 0 || o.ReconnectMax < o.ReconnectMin):
		return nil, fmt.Errorf("%w: reconnect interval", ErrInvalidArgument)
	}
	if o.Will != nil {
		if err := validatePublish(o.Will.Topic, o.Will.Payload, o.Will.QoS); err != nil {
			return nil, fmt.Errorf("will: %w", err)
		}
	}
	for _, s := range o.Subscriptions {
		if err := validateSubscribe(s.TopicFilter, s.MaximumQoS); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// pingTimeout is how long a PINGREQ may go unanswered.
func (o *Options) pingTimeout() time.Duration {
	if o.PingTimeout > 0 {
		return o.PingTimeout
	}
	return max(o.KeepAlive/2, time.Second)
}

func URL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

func ClientID(id string) Option {
	return func(o *Options) {
		o.ClientID = id
	}
}

// KeepAlive sets the keep-alive interval sent in CONNECT, rounded down to seconds.
func KeepAlive(d time.Duration) Option {
	return func(o *Options) {
		o.KeepAlive = d.Truncate(time.Second)
	}
}

func PingTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.PingTimeout = d
	}
}

func ConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = d
	}
}

func WriteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WriteTimeout = d
	}
}

func CleanSession(clean bool) Option {
	return func(o *Options) {
		o.CleanSession = clean
	}
}

// Auth is a fixed CredentialsProvider.
func Auth(username, password string) Option {
	return func(o *Options) {
		o.Credentials = func(context.Context) (Credentials, error) {
			return Credentials{Username: username, Password: []byte(password)}, nil
		}
	}
}

func CredentialsFunc(fn CredentialsProvider) Option {
	return func(o *Options) {
		o.Credentials = fn
	}
}

func LastWill(topic string, payload []byte, qos byte, retain bool) Option {
	return func(o *Options) {
		o.Will = &Will{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	}
}

func TLSConfig(cfg *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = cfg
	}
}

// Header adds an HTTP header to the WebSocket handshake.
func Header(key, value string) Option {
	return func(o *Options) {
		if o.Header == nil {
			o.Header = make(http.Header)
		}
		o.Header.Add(key, value)
	}
}

// Dialer replaces the default transport.NetDialer.
func Dialer(d transport.Dialer) Option {
	return func(o *Options) {
		o.Dialer = d
	}
}

// Window caps the QoS 1/2 publishes awaiting acknowledgement.
func Window(n int) Option {
	return func(o *Options) {
		o.Window = n
	}
}

func MaxQueued(n int) Option {
	return func(o *Options) {
		o.MaxQueued = n
	}
}

// Retry sets the acknowledgement timeout and how many times a publish is retransmitted.
func Retry(ackTimeout time.Duration, maxRetries int) Option {
	return func(o *Options) {
		o.AckTimeout = ackTimeout
		o.MaxRetries = maxRetries
	}
}

func Offline(policy OfflinePolicy) Option {
	return func(o *Options) {
		o.Offline = policy
	}
}

func Admission(mode PublishMode) Option {
	return func(o *Options) {
		o.PublishMode = mode
	}
}

// AutoReconnect reconnects after a lost connection, waiting between min and max
// with exponential backoff.
func AutoReconnect(min, max time.Duration) Option {
	return func(o *Options) {
		o.AutoReconnect = true
		o.ReconnectMin = min
		o.ReconnectMax = max
	}
}

func DisconnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DisconnectTimeout = d
	}
}

// DisconnectOnMalformed closes the connection on a malformed inbound packet. When
// false the buffered bytes are discarded and the connection is kept.
func DisconnectOnMalformed(disconnect bool) Option {
	return func(o *Options) {
		o.DisconnectOnMalformed = disconnect
	}
}

// MaxPacketSize bounds the size of inbound packets. A larger packet is treated as
// malformed as soon as its fixed header arrives, before the body is buffered.
func MaxPacketSize(n int) Option {
	return func(o *Options) {
		o.MaxPacketSize = n
	}
}

// Subscriptions adds subscriptions made on every connect, delivered to OnMessage.
func Subscriptions(subscription ...packet.Subscription) Option {
	return func(o *Options) {
		o.Subscriptions = append(o.Subscriptions, subscription...)
	}
}

func Logger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Metrics records session counters in stat.
func Metrics(stat *Stat) Option {
	return func(o *Options) {
		o.Stat = stat
	}
}

func OnStatus(fn func(StatusEvent)) Option {
	return func(o *Options) {
		o.OnStatus = fn
	}
}

// OnMessage handles messages no subscription handler claimed.
func OnMessage(fn MessageHandler) Option {
	return func(o *Options) {
		o.OnMessage = fn
	}
}
