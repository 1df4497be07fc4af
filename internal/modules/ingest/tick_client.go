package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	tickWriteWait   = 10 * time.Second
	tickDialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// Tick is one live price update from the upstream feed
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// TickFeedClient maintains a websocket subscription to the live price feed
// and writes each tick into the mark registry as a live mark
type TickFeedClient struct {
	url        string
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	marks *marks.Repository
	log   zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	lastTick   time.Time
	lastTickMu sync.RWMutex
}

// NewTickFeedClient creates a new tick feed client
func NewTickFeedClient(url string, markRepo *marks.Repository, log zerolog.Logger) *TickFeedClient {
	return &TickFeedClient{
		url:      url,
		marks:    markRepo,
		log:      log.With().Str("component", "tick_feed").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start connects and begins the read loop. A failed initial connection is
// retried in the background rather than treated as fatal.
func (c *TickFeedClient) Start() error {
	c.log.Info().Str("url", c.url).Msg("Starting tick feed client")

	if err := c.Connect(); err != nil {
		c.log.Warn().Err(err).Msg("Initial tick feed connection failed, will retry in background")
		go c.reconnectLoop()
		return err
	}

	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()
	go c.readTicks(ctx)
	return nil
}

// Stop gracefully shuts down the client
func (c *TickFeedClient) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopChan)
	return c.Disconnect()
}

// Connect dials the feed and subscribes to the ticks channel
func (c *TickFeedClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), tickDialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial tick feed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.connected = true

	if err := c.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		c.conn = nil
		c.connCtx = nil
		c.cancelFunc = nil
		c.connected = false
		return fmt.Errorf("failed to subscribe to ticks: %w", err)
	}

	c.log.Info().Msg("Connected to tick feed")
	return nil
}

// Disconnect closes the websocket connection
func (c *TickFeedClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connCtx = nil
	c.connected = false

	if err != nil {
		return fmt.Errorf("error closing tick feed connection: %w", err)
	}
	return nil
}

func (c *TickFeedClient) subscribe(ctx context.Context) error {
	data, err := json.Marshal([]string{"ticks"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, tickWriteWait)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}
	return nil
}

func (c *TickFeedClient) readTicks(ctx context.Context) {
	defer func() {
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			c.log.Warn().Msg("Connection is nil, stopping read loop")
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				c.log.Info().Int("status", int(closeStatus)).Msg("Tick feed closed normally")
			} else if ctx.Err() != nil {
				c.log.Debug().Msg("Read cancelled by context")
			} else {
				c.log.Error().Err(err).Msg("Unexpected tick feed read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := c.handleMessage(message); err != nil {
			c.log.Error().Err(err).Str("message", string(message)).Msg("Failed to handle tick")
			// keep reading despite bad messages
		}
	}
}

// HandleTick applies one tick to the mark registry
func (c *TickFeedClient) HandleTick(tick Tick) error {
	if tick.Symbol == "" {
		return fmt.Errorf("tick missing symbol")
	}
	at := time.Unix(tick.Timestamp, 0).UTC()
	if tick.Timestamp == 0 {
		at = time.Now().UTC()
	}

	if err := c.marks.UpsertMark(tick.Symbol, domain.MarkLive, tick.Price, at); err != nil {
		return fmt.Errorf("failed to upsert live mark for %s: %w", tick.Symbol, err)
	}

	c.lastTickMu.Lock()
	c.lastTick = time.Now()
	c.lastTickMu.Unlock()
	return nil
}

func (c *TickFeedClient) handleMessage(message []byte) error {
	var tick Tick
	if err := json.Unmarshal(message, &tick); err != nil {
		return fmt.Errorf("failed to parse tick: %w", err)
	}
	return c.HandleTick(tick)
}

func (c *TickFeedClient) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := c.backoff(attempt)
		if attempt <= maxReconnectAttempts {
			c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to tick feed")
		} else {
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).
				Msg("Reconnection attempt exceeded max attempts, will keep retrying")
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.Connect(); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("Tick feed reconnection failed")
			continue
		}

		c.mu.RLock()
		ctx := c.connCtx
		c.mu.RUnlock()
		go c.readTicks(ctx)
		return
	}
}

func (c *TickFeedClient) backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// IsConnected returns current connection status
func (c *TickFeedClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LastTickAt returns when the last tick was applied, zero if none yet
func (c *TickFeedClient) LastTickAt() time.Time {
	c.lastTickMu.RLock()
	defer c.lastTickMu.RUnlock()
	return c.lastTick
}
