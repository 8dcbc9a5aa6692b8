package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/campus-auth/internal/infrastructure/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Stats counts activity deliveries and broker sessions.
type Stats struct {
	Published  uint64
	Failed     uint64
	Reconnects uint64
}

// Client publishes account activity and keeps a retained presence document
// on the status topic.
//
// Paho reconnects on its own. Every successful (re)connect republishes
// presence with the running reconnect count. Close is idempotent.
type Client struct {
	client    pahomqtt.Client
	cfg       config.MQTTConfig
	announcer announcer

	mu        sync.RWMutex
	connected bool
	closed    bool

	onConnect    func()
	onDisconnect func(err error)

	sessions  atomic.Uint64 // successful connects, including the first
	published atomic.Uint64
	failed    atomic.Uint64

	closeOnce sync.Once
}

// Connect dials the broker and registers an offline Last Will. version is
// reported in every presence document.
func Connect(cfg config.MQTTConfig, version string) (*Client, error) {
	c := &Client{
		cfg:       cfg,
		announcer: newAnnouncer(cfg.Broker.ClientID, version),
	}

	opts := buildClientOptions(cfg)
	c.registerWill(opts)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// buildClientOptions maps config onto paho options: ssl:// when TLS is on,
// optional credentials, clean session and auto-reconnect with the
// configured backoff.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	return opts
}

// registerWill sets the retained offline document the broker publishes if
// the connection drops uncleanly. QoS 1 so a subscriber cannot miss it.
func (c *Client) registerWill(opts *pahomqtt.ClientOptions) {
	payload := c.announcer.offline(ReasonConnection, 0)
	opts.SetWill(Topics{}.Status(), string(payload), 1, true)
}

func (c *Client) reconnects() uint64 {
	if n := c.sessions.Load(); n > 1 {
		return n - 1
	}
	return 0
}

func (c *Client) handleConnect() {
	c.sessions.Add(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = true
	callback := c.onConnect
	c.mu.Unlock()

	//nolint:gosec // QoS validated by config
	c.client.Publish(Topics{}.Status(), byte(c.cfg.QoS), true, c.announcer.online(c.reconnects()))

	if callback != nil {
		callback()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// Close replaces the retained presence with a shutdown document and
// disconnects. Later calls, and calls on a client that never connected,
// return nil.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.closed = true
		c.connected = false
		c.mu.Unlock()

		if c.client == nil {
			return
		}
		if wasConnected && c.client.IsConnected() {
			//nolint:gosec // QoS validated by config
			token := c.client.Publish(Topics{}.Status(), byte(c.cfg.QoS), true, c.announcer.offline(ReasonShutdown, c.reconnects()))
			token.WaitTimeout(publishTimeout)
		}
		c.client.Disconnect(disconnectQuiesce)
	})
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && !c.closed && c.client != nil && c.client.IsConnected()
}

// Stats returns delivery counters.
func (c *Client) Stats() Stats {
	return Stats{
		Published:  c.published.Load(),
		Failed:     c.failed.Load(),
		Reconnects: c.reconnects(),
	}
}

// SetOnConnect sets a callback invoked on connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}
