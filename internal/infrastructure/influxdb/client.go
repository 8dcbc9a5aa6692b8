package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/campus-auth/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// serviceTag is added to every point so several deployments can share
	// one bucket.
	serviceTag = "campusauth"
)

// Stats counts points handed to the write API and batches it reported as
// failed. Both only grow.
type Stats struct {
	Points   uint64
	Failures uint64
}

// Client writes account activity points through the batched, non-blocking
// write API of influxdb-client-go.
//
// A point written after Close is dropped. Close is idempotent and waits for
// in-flight writes before flushing, so it never races a write into a closed
// batch channel.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	mu      sync.RWMutex // guards open and onError; held for reading across every write
	open    bool
	onError func(err error)

	points   atomic.Uint64
	failures atomic.Uint64
}

// Connect pings the server and starts the write API for cfg.Bucket.
// Returns ErrDisabled when InfluxDB is turned off in config.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		open:     true,
	}
	go c.watchWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps config onto library options. Non-positive batch
// settings take the package defaults.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(time.Duration(flushSeconds) * time.Second / time.Millisecond)).
		AddDefaultTag("service", serviceTag)
}

func (c *Client) watchWriteErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending points and closes the client. Calling it again,
// or on a client that never connected, is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server. It returns ErrNotConnected after Close.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Stats returns the write counters.
func (c *Client) Stats() Stats {
	return Stats{Points: c.points.Load(), Failures: c.failures.Load()}
}

// Flush blocks until buffered points are written. No-op after Close.
func (c *Client) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return
	}
	c.writeAPI.Flush()
}
