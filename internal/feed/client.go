// Package feed maintains the upstream market-data connection. A single
// client owns the websocket, replays the desired subscription set after every
// reconnect, and translates inbound frames into bus events.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hward/marketboard/internal/bus"
	"github.com/hward/marketboard/internal/model"
)

// State is the client's connection lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateResubscribing
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateResubscribing:
		return "resubscribing"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var errUnknownChannel = errors.New("feed: unknown channel")

// Config holds feed client settings.
type Config struct {
	URL               string
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
}

// DefaultConfig returns standard reconnect pacing.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  time.Minute,
	}
}

// subKey identifies one desired subscription. World 0 means all worlds.
type subKey struct {
	Channel string
	World   model.WorldID
}

// Client is the reconnecting feed client.
type Client struct {
	cfg       Config
	transport Transport
	hub       *bus.Hub
	logger    *slog.Logger

	// mu guards state, conn and subs. The desired subscription set outlives
	// any single connection; only Unsubscribe removes from it.
	mu    sync.Mutex
	state State
	conn  Conn
	subs  map[subKey]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a feed client.
func NewClient(cfg Config, transport Transport, hub *bus.Hub, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		hub:       hub,
		logger:    logger,
		state:     StateDisconnected,
		subs:      make(map[subKey]struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe adds a channel to the desired set; world 0 covers all worlds.
// If a connection is up the directive is sent immediately, otherwise it is
// replayed on the next (re)connect.
func (c *Client) Subscribe(channel string, world model.WorldID) error {
	switch channel {
	case ChannelListingsAdd, ChannelListingsRemove, ChannelSalesAdd:
	default:
		return errUnknownChannel
	}

	key := subKey{Channel: channel, World: world}

	c.mu.Lock()
	c.subs[key] = struct{}{}
	// Send while resubscribing too: the replay loop may have snapshotted the
	// desired set before this key was added, and a duplicate subscribe is
	// harmless while a skipped one stays silent until the next reconnect.
	conn, live := c.conn, c.state == StateStreaming || c.state == StateResubscribing
	c.mu.Unlock()

	if live {
		if err := conn.WriteJSON(directive{Event: "subscribe", Channel: formatChannel(channel, world)}); err != nil {
			// The desired set already holds the key; the reconnect replay
			// will send it.
			c.logger.Warn("subscribe directive failed, deferring to replay",
				"channel", channel, "world", world, "error", err)
		}
	}
	return nil
}

// Unsubscribe removes a channel from the desired set. This is the only way a
// subscription leaves the set; disconnects never clear it.
func (c *Client) Unsubscribe(channel string, world model.WorldID) error {
	key := subKey{Channel: channel, World: world}

	c.mu.Lock()
	if _, ok := c.subs[key]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, key)
	conn, streaming := c.conn, c.state == StateStreaming
	c.mu.Unlock()

	if streaming {
		if err := conn.WriteJSON(directive{Event: "unsubscribe", Channel: formatChannel(channel, world)}); err != nil {
			c.logger.Warn("unsubscribe directive failed",
				"channel", channel, "world", world, "error", err)
		}
	}
	return nil
}

// Start launches the connect/stream loop.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("feed client started", "url", c.cfg.URL)
	return nil
}

// Stop shuts the client down, waiting for the loop to exit or ctx to expire.
func (c *Client) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	// Unblock a pending ReadMessage.
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.setState(StateStopped)
		c.logger.Info("feed client stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("feed client stop timed out")
		return ctx.Err()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run cycles connect → replay → stream until the context ends. The backoff
// wait doubles on consecutive failures and resets once a connection reaches
// streaming.
func (c *Client) run() {
	defer c.wg.Done()

	wait := c.cfg.ReconnectBaseWait
	first := true

	for {
		if c.ctx.Err() != nil {
			return
		}
		if !first {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > c.cfg.ReconnectMaxWait {
				wait = c.cfg.ReconnectMaxWait
			}
		}
		first = false

		c.setState(StateConnecting)
		conn, err := c.transport.Dial(c.ctx, c.cfg.URL)
		if err != nil {
			c.setState(StateDisconnected)
			c.logger.Warn("feed dial failed", "error", err, "retry_in", wait)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = StateResubscribing
		c.mu.Unlock()

		if err := c.replaySubscriptions(conn); err != nil {
			c.logger.Warn("subscription replay failed", "error", err, "retry_in", wait)
			conn.Close()
			c.clearConn(conn)
			continue
		}

		c.setState(StateStreaming)
		c.logger.Info("feed streaming")
		wait = c.cfg.ReconnectBaseWait

		c.stream(conn)
		c.clearConn(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
	}
}

func (c *Client) clearConn(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// replaySubscriptions re-sends the entire desired set. Sorted order keeps
// the upstream trace stable across reconnects.
func (c *Client) replaySubscriptions(conn Conn) error {
	c.mu.Lock()
	keys := make([]subKey, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Channel != keys[j].Channel {
			return keys[i].Channel < keys[j].Channel
		}
		return keys[i].World < keys[j].World
	})

	for _, key := range keys {
		if err := conn.WriteJSON(directive{Event: "subscribe", Channel: formatChannel(key.Channel, key.World)}); err != nil {
			return err
		}
	}

	c.logger.Info("subscriptions replayed", "count", len(keys))
	return nil
}

// stream reads frames until the connection fails or the context ends.
func (c *Client) stream(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("feed connection lost", "error", err)
			}
			return
		}

		f, err := parseFrame(data)
		if err != nil {
			// A malformed message is the upstream's problem, not a reason
			// to drop a healthy connection.
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Event {
	case ChannelListingsAdd, ChannelListingsRemove:
		// Both carry the complete current listing set for the price lines of
		// the item; a remove event simply carries a smaller (possibly empty)
		// set.
		c.hub.Listings.Publish(bus.ListingsChanged{
			World:    f.World,
			Item:     f.Item,
			Listings: f.modelListings(),
			Sales:    f.modelSales(),
		})
	case ChannelSalesAdd:
		if records := f.modelSales(); len(records) > 0 {
			c.hub.Sales.Publish(bus.SaleHistoryAdded{Records: records})
		}
	default:
		c.logger.Warn("discarding frame with unknown event", "event", f.Event)
	}
}
