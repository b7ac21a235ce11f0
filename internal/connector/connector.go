package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fushengyk/spreadscan/internal/config"
	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connector implements domain.ExchangeConnector over a single WebSocket session
type Connector struct {
	market domain.Market
	proto  Protocol
	sink   domain.QuoteWriter
	cfg    config.WebSocketConfig
	logger *zap.SugaredLogger

	// lifeMu serializes Connect and Close
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status domain.ConnStatus
	subs   *subscriptionSet
	conn   *websocket.Conn
	gen    uint64 // bumped on every session change

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	recv    atomic.Uint64
	parsed  atomic.Uint64
	dropped atomic.Uint64
}

var _ domain.ExchangeConnector = (*Connector)(nil)

// Stats are cumulative message counters
type Stats struct {
	Received uint64
	Parsed   uint64
	Dropped  uint64
}

// New creates a disconnected connector writing quotes into sink
func New(market domain.Market, proto Protocol, sink domain.QuoteWriter, cfg config.WebSocketConfig, logger *zap.SugaredLogger) *Connector {
	return &Connector{
		market: market,
		proto:  proto,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		status: domain.StatusDisconnected,
		subs:   newSubscriptionSet(),
	}
}

func (c *Connector) Market() domain.MarketID {
	return c.market.ID
}

// Connect replaces any running session with a new one subscribed to symbols.
// It returns immediately; dialing happens in the background.
func (c *Connector) Connect(symbols []string) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.stopSession()

	c.mu.Lock()
	c.subs.reset(symbols)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Subscribe adds symbols to the set. Only symbols not already pending or live
// are sent, and only when a session is connected; the rest go out on connect.
func (c *Connector) Subscribe(symbols []string) {
	c.mu.Lock()
	added := c.subs.add(symbols)
	conn, gen := c.conn, c.gen
	connected := c.status == domain.StatusConnected
	c.mu.Unlock()

	if len(added) == 0 || !connected || conn == nil {
		return
	}
	if err := c.sendSubscribe(conn, gen, added); err != nil {
		c.logger.Warnf("[%s] Subscribe %v failed: %v", c.market.ID, added, err)
	}
}

// Close stops the session, the reconnect loop and the keep-alive
func (c *Connector) Close() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.cancel != nil {
		c.logger.Infof("[%s] Closing connector...", c.market.ID)
	}
	c.stopSession()
}

// State returns the session status and the subscription set
func (c *Connector) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ConnectionState{
		Market:  c.market.ID,
		Status:  c.status,
		Pending: c.subs.pendingList(),
		Live:    c.subs.liveList(),
	}
}

// Stats returns message counters since creation
func (c *Connector) Stats() Stats {
	return Stats{
		Received: c.recv.Load(),
		Parsed:   c.parsed.Load(),
		Dropped:  c.dropped.Load(),
	}
}

func (c *Connector) stopSession() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

func (c *Connector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := c.newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndRead(ctx, &backoff)
		c.markDisconnected()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warnf("[%s] Disconnected: %v. Retry in %v", c.market.ID, err, backoff.current)
		}
		c.waitWithBackoff(ctx, &backoff)
	}
}

type backoffState struct {
	current time.Duration
	min     time.Duration
	max     time.Duration
}

func (b *backoffState) reset() {
	b.current = b.min
}

func (c *Connector) newBackoff() backoffState {
	minB := c.cfg.ReconnectDelay
	if minB == 0 {
		minB = 5 * time.Second
	}
	maxB := c.cfg.MaxReconnectDelay
	if maxB < minB {
		maxB = minB
	}
	return backoffState{current: minB, min: minB, max: maxB}
}

func (c *Connector) waitWithBackoff(ctx context.Context, b *backoffState) {
	t := time.NewTimer(b.current)
	defer t.Stop()

	select {
	case <-t.C:
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	case <-ctx.Done():
	}
}

func (c *Connector) connectAndRead(ctx context.Context, b *backoffState) error {
	c.setStatus(domain.StatusConnecting)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, c.proto.URL(), c.headers())
	if err != nil {
		status := ""
		if resp != nil {
			status = resp.Status
		}
		return fmt.Errorf("dial: %v (status: %s)", err, status)
	}
	defer conn.Close()

	sessCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stop()

	// unblock ReadMessage on shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		conn.Close()
	}()

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if err := c.flush(conn, gen); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	b.reset()

	st := c.State()
	c.logger.Infof("[%s] ✅ Connected (%d subscriptions)", c.market.ID, len(st.Live))

	if c.cfg.PingInterval > 0 && c.proto.PingMessage() != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.keepAlive(sessCtx, conn)
		}()
	}

	idle := c.cfg.IdleTimeout
	extend := func() {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		extend()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(conn, msg)
	}
}

// flush sends pending subscriptions until nothing is left, then marks the
// session connected. Symbols added by Subscribe during the flush are picked up
// by the next round.
func (c *Connector) flush(conn *websocket.Conn, gen uint64) error {
	for {
		c.mu.Lock()
		pending := c.subs.pendingList()
		if len(pending) == 0 {
			c.status = domain.StatusConnected
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		if err := c.sendSubscribe(conn, gen, pending); err != nil {
			return err
		}
	}
}

func (c *Connector) sendSubscribe(conn *websocket.Conn, gen uint64, symbols []string) error {
	msgs, err := c.proto.SubscribeMessages(symbols)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := c.write(conn, m); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.gen == gen {
		c.subs.promote(symbols)
	}
	c.mu.Unlock()
	return nil
}

func (c *Connector) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, c.proto.PingMessage()); err != nil {
				c.logger.Warnf("[%s] Ping failed: %v", c.market.ID, err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Connector) handle(conn *websocket.Conn, msg []byte) {
	c.recv.Add(1)

	d, err := c.proto.Decode(msg)
	if err != nil {
		if !errors.Is(err, ErrIgnored) {
			c.dropped.Add(1)
			c.logger.Debugf("[%s] Dropped message: %v", c.market.ID, err)
		}
		return
	}

	if d.Reply != nil {
		if err := c.write(conn, d.Reply); err != nil {
			c.logger.Warnf("[%s] Reply failed: %v", c.market.ID, err)
		}
	}

	now := time.Now()
	for _, q := range d.Quotes {
		q.MarketID = c.market.ID
		if q.ObservedAt.IsZero() {
			q.ObservedAt = now
		}
		if c.sink.Put(q) {
			c.parsed.Add(1)
		} else {
			c.dropped.Add(1)
		}
	}
}

func (c *Connector) write(conn *websocket.Conn, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Connector) setStatus(s domain.ConnStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// markDisconnected leaves Connected and queues live symbols for the next session
func (c *Connector) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = domain.StatusDisconnected
	c.conn = nil
	c.gen++
	c.subs.demote()
}

func (c *Connector) headers() http.Header {
	h := http.Header{}
	h.Add("User-Agent", "Spreadscan/1.0")
	return h
}
