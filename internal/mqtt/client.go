// Package mqtt drives ESPHome-family controllers over an MQTT broker and
// tracks the connection state of every device.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/rs/zerolog"
)

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// RetryInterval is the pause between failed connection attempts.
	RetryInterval time.Duration
	// AuthRetryInterval is the longer pause after the broker refused our
	// credentials.
	AuthRetryInterval time.Duration
}

// Client handles the broker session, availability subscriptions and
// publishing for every registered device.
type Client struct {
	cfg      Config
	client   mqtt.Client
	log      zerolog.Logger
	registry *Registry

	mu      sync.Mutex
	devices []string
}

// NewClient configures a client. It does not connect; call Run.
func NewClient(cfg Config, registry *Registry, log zerolog.Logger) *Client {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.AuthRetryInterval <= 0 {
		cfg.AuthRetryInterval = time.Minute
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Client{
		cfg:      cfg,
		log:      log.With().Str("component", "mqtt").Logger(),
		registry: registry,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	// reconnection after a lost session is left to paho; the initial dial is
	// ours so refused credentials can be told apart from other failures
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetDefaultPublishHandler(c.messageHandler)
	opts.OnConnect = c.connectHandler
	opts.OnConnectionLost = c.connectionLostHandler
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.registry.FireAll(EventDial, nil)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Registry exposes the device state machines.
func (c *Client) Registry() *Registry { return c.registry }

// AddDevice tracks a device and subscribes to its availability topic once
// the session is up.
func (c *Client) AddDevice(deviceID string) {
	c.mu.Lock()
	c.devices = append(c.devices, deviceID)
	c.mu.Unlock()
	c.registry.Track(deviceID)
	if c.client.IsConnectionOpen() {
		c.subscribe(deviceID)
	}
}

// Run dials the broker until a session is established or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.registry.FireAll(EventDial, nil)
		token := c.client.Connect()
		err := waitToken(ctx, token, 30*time.Second)
		if err == nil {
			return nil
		}

		wait := c.cfg.RetryInterval
		if isAuthError(err) {
			c.log.Error().Err(err).Str("broker", c.cfg.Broker).Msg("broker refused credentials")
			c.registry.FireAll(EventAuthRefused, err)
			wait = c.cfg.AuthRetryInterval
		} else {
			c.log.Warn().Err(err).Str("broker", c.cfg.Broker).Msg("failed to connect to MQTT broker")
			c.registry.FireAll(EventFailure, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised)
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s", timeout)
	}
}

func (c *Client) connectHandler(client mqtt.Client) {
	c.log.Info().Str("broker", c.cfg.Broker).Msg("connected to MQTT broker")
	c.registry.FireAll(EventConnected, nil)
	c.mu.Lock()
	devices := append([]string(nil), c.devices...)
	c.mu.Unlock()
	// subscriptions do not survive a clean session, resubscribe every time
	for _, id := range devices {
		c.subscribe(id)
	}
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	c.log.Warn().Err(err).Msg("connection to MQTT broker lost")
	c.registry.FireAll(EventBrokerLost, err)
}

func (c *Client) subscribe(deviceID string) {
	topic := c.availabilityTopic(deviceID)
	token := c.client.Subscribe(topic, 1, nil)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		c.log.Error().Err(token.Error()).Str("device", deviceID).Msg("failed to subscribe to availability topic")
		c.registry.Fire(deviceID, EventFailure, token.Error())
		return
	}
	c.log.Debug().Str("device", deviceID).Str("topic", topic).Msg("subscribed to availability")
}

// messageHandler receives availability updates published by the devices as
// "<prefix>/<device>/status" with payload "online" or "offline".
func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	deviceID, ok := c.deviceFromAvailability(msg.Topic())
	if !ok {
		c.log.Debug().Str("topic", msg.Topic()).Msg("ignoring message from unexpected topic")
		return
	}
	switch strings.ToLower(strings.TrimSpace(string(msg.Payload()))) {
	case "online":
		c.registry.Fire(deviceID, EventAvailable, nil)
	case "offline":
		c.registry.Fire(deviceID, EventUnavailable, nil)
	default:
		c.log.Debug().Str("device", deviceID).Bytes("payload", msg.Payload()).Msg("unknown availability payload")
	}
}

// Topic joins the prefix, the device ID and parts into a topic name.
func (c *Client) Topic(deviceID string, parts ...string) string {
	all := make([]string, 0, len(parts)+2)
	if c.cfg.TopicPrefix != "" {
		all = append(all, c.cfg.TopicPrefix)
	}
	all = append(all, deviceID)
	all = append(all, parts...)
	return strings.Join(all, "/")
}

func (c *Client) availabilityTopic(deviceID string) string {
	return c.Topic(deviceID, "status")
}

func (c *Client) deviceFromAvailability(topic string) (string, bool) {
	rest := topic
	if c.cfg.TopicPrefix != "" {
		var ok bool
		rest, ok = strings.CutPrefix(topic, c.cfg.TopicPrefix+"/")
		if !ok {
			return "", false
		}
	}
	deviceID, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "status" || deviceID == "" {
		return "", false
	}
	return deviceID, true
}

// Publish sends payload to topic with QoS 1 and waits for the broker ack.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("publish %s: not connected to broker", topic)
	}
	token := c.client.Publish(topic, 1, false, payload)
	if err := waitToken(ctx, token, 5*time.Second); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.log.Debug().Str("topic", topic).Bytes("payload", payload).Msg("published")
	return nil
}

// Close disconnects the MQTT client.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
