package mqtt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-io/iotmqtt/packet"
	"github.com/golang-io/iotmqtt/topic"
	"golang.org/x/sync/semaphore"
)

// A Client is an MQTT 3.1.1 client holding one session to a broker.
//
// Clients are safe for concurrent use by multiple goroutines. Every method hands a
// request to the session goroutine; nothing touches the connection directly.
//
// A Client is created disconnected. Connect opens the session, Disconnect ends it
// cleanly and may be followed by another Connect. Close releases the Client for good.
type Client struct {
	options  Options
	session  *session
	dispatch *dispatcher

	// window bounds the QoS 1/2 publishes a caller may have outstanding when
	// PublishMode is PublishBlock.
	window *semaphore.Weighted

	closeOnce sync.Once
}

// New validates opts and starts the session goroutine. It does not connect.
func New(opts ...Option) (*Client, error) {
	c := &Client{options: newOptions(opts...)}
	u, err := c.options.validate()
	if err != nil {
		return nil, err
	}
	logger := c.options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if c.options.PublishMode == PublishBlock {
		c.window = semaphore.NewWeighted(int64(c.options.Window))
	}
	c.dispatch = newDispatcher(logger)
	c.session = newSession(&c.options, u, c.dispatch)
	return c, nil
}

func (c *Client) ID() string {
	return c.options.ClientID
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.session.state.Load())
}

// InFlight returns the number of QoS 1/2 publishes awaiting acknowledgement.
func (c *Client) InFlight() int {
	return int(c.session.inflight.Load())
}

// Connect opens the session and waits for the CONNACK. It returns nil at once when
// already connected. A refused CONNACK returns an error wrapping ErrConnectFailed and
// the broker's return code; it is never retried automatically.
func (c *Client) Connect(ctx context.Context) error {
	tok := newToken()
	if err := c.session.submit(ctx, &request{kind: requestConnect, token: tok}); err != nil {
		return err
	}
	return tok.Wait(ctx)
}

// Publish sends a message and waits until it is complete: written for QoS 0, PUBACK
// for QoS 1, PUBCOMP for QoS 2.
func (c *Client) Publish(ctx context.Context, topicName string, payload []byte, qos byte, retain bool) error {
	tok, err := c.PublishAsync(ctx, topicName, payload, qos, retain)
	if err != nil {
		return err
	}
	return tok.Wait(ctx)
}

// PublishAsync hands a message to the session and returns a Token that completes
// like Publish. With PublishBlock it first waits, bounded by ctx, for a window slot.
// payload is copied.
func (c *Client) PublishAsync(ctx context.Context, topicName string, payload []byte, qos byte, retain bool) (*Token, error) {
	if err := validatePublish(topicName, payload, qos); err != nil {
		return nil, err
	}
	tok := newToken()
	if qos > AtMostOnce && c.window != nil {
		if err := c.window.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		tok.release = func() { c.window.Release(1) }
	}
	msg := &Message{Topic: topicName, Payload: bytes.Clone(payload), QoS: qos, Retain: retain}
	if err := c.session.submit(ctx, &request{kind: requestPublish, token: tok, msg: msg}); err != nil {
		tok.complete(err)
		return nil, err
	}
	return tok, nil
}

// Subscribe subscribes to filter and waits for the SUBACK. handler receives matching
// messages; a nil handler routes them to the OnMessage option. Subscribing to a
// filter again replaces its handler and QoS.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) (*Subscription, error) {
	if err := validateSubscribe(filter, qos); err != nil {
		return nil, err
	}
	tok := newToken()
	req := &request{
		kind:    requestSubscribe,
		token:   tok,
		subs:    []packet.Subscription{{TopicFilter: filter, MaximumQoS: qos}},
		handler: handler,
	}
	if err := c.session.submit(ctx, req); err != nil {
		return nil, err
	}
	if err := tok.Wait(ctx); err != nil {
		return nil, err
	}
	granted := qos
	if len(tok.granted) > 0 {
		granted = tok.granted[0]
	}
	return &Subscription{client: c, Filter: filter, QoS: granted}, nil
}

// Unsubscribe removes filters and waits for the UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: no topic filter", ErrInvalidArgument)
	}
	for _, f := range filters {
		if err := topic.ValidateFilter(f); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	tok := newToken()
	req := &request{kind: requestUnsubscribe, token: tok, filters: append([]string(nil), filters...)}
	if err := c.session.submit(ctx, req); err != nil {
		return err
	}
	return tok.Wait(ctx)
}

// Disconnect sends DISCONNECT, closes the connection and fails every pending request
// with ErrDisconnected. Subscriptions made with Subscribe are forgotten. Without a
// deadline on ctx the DisconnectTimeout option applies.
func (c *Client) Disconnect(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.DisconnectTimeout)
		defer cancel()
	}
	tok := newToken()
	if err := c.session.submit(ctx, &request{kind: requestDisconnect, token: tok}); err != nil {
		return err
	}
	return tok.Wait(ctx)
}

// Close stops the session without sending DISCONNECT, fails pending requests with
// ErrClosed and waits for queued callbacks to run. Later calls return ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.session.stop()
		c.dispatch.stop()
	})
	return nil
}

func validateQoS(qos byte) error {
	if qos > ExactlyOnce {
		return fmt.Errorf("%w: qos %d", ErrInvalidArgument, qos)
	}
	return nil
}

func validatePublish(topicName string, payload []byte, qos byte) error {
	if err := topic.ValidateTopic(topicName); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := validateQoS(qos); err != nil {
		return err
	}
	// topic length prefix, topic, packet identifier, payload
	if n := 2 + len(topicName) + 2 + len(payload); n > packet.MaxRemainingLength {
		return fmt.Errorf("%w: publish of %d bytes exceeds %d", ErrInvalidArgument, n, packet.MaxRemainingLength)
	}
	return nil
}

func validateSubscribe(filter string, qos byte) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return validateQoS(qos)
}
