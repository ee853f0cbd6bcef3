package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/surveillance/presurge/internal/broker/wire"
	"github.com/surveillance/presurge/internal/resilience"
)

var errClosed = fmt.Errorf("broker: stream client closed")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
	sendBufferSize = 1024
)

// StreamHandler receives decoded inbound frames from the stream. Book is
// absolute state (drop-oldest backpressure is acceptable); Trade must
// never be silently dropped without being counted, since it feeds the
// append-only history log.
type StreamHandler interface {
	OnTrade(*wire.Trade)
	OnBook(*wire.Book)
	OnDisconnect(err error)
	// OnReconnect fires once the stream has re-dialed and successfully
	// replayed the subscription registry, i.e. the moment READY is
	// re-entered after a DEGRADED/DISCONNECTED excursion.
	OnReconnect()
}

// StreamClient manages one persistent outbound connection to the broker's
// WebSocket stream: dialing, subscription replay on reconnect, and the
// read/write pumps. Unlike a server-side session registry fanning one feed
// out to many clients, this is a single client dialing one upstream.
type StreamClient struct {
	url     string
	breaker *resilience.Breaker
	log     zerolog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	connectedAt time.Time

	registry *subscriptionRegistry

	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool

	backoffBase time.Duration
	backoffCap  time.Duration
	jitter      float64
	pacingDelay time.Duration
}

// StreamConfig configures a StreamClient.
type StreamConfig struct {
	URL             string
	Breaker         *resilience.Breaker
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	Jitter          float64
	PacingDelay     time.Duration
	SubscriptionCap int
}

// NewStreamClient builds a StreamClient. Run dials the connection.
func NewStreamClient(cfg StreamConfig, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		url:         cfg.URL,
		breaker:     cfg.Breaker,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		jitter:      cfg.Jitter,
		pacingDelay: cfg.PacingDelay,
		registry:    newSubscriptionRegistry(cfg.SubscriptionCap),
		sendCh:      make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		log:         log.With().Str("component", "broker.stream").Logger(),
	}
}

// Run dials the stream and processes frames until ctx is cancelled,
// reconnecting with jittered exponential backoff on any disconnect and
// replaying the subscription registry once each reconnect succeeds.
func (s *StreamClient) Run(ctx context.Context, handler StreamHandler) error {
	backoffDelay := s.backoffBase

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.closed.Load() {
			return errClosed
		}

		_, err := s.breaker.Execute(func() (any, error) {
			return nil, s.runOnce(ctx, handler)
		})
		if err == nil {
			backoffDelay = s.backoffBase
			continue
		}

		handler.OnDisconnect(err)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := resilience.Jitter(backoffDelay, s.jitter)
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		backoffDelay *= 2
		if backoffDelay > s.backoffCap {
			backoffDelay = s.backoffCap
		}
	}
}

func (s *StreamClient) runOnce(ctx context.Context, handler StreamHandler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("broker: dial stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connectedAt = time.Now()
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if err := s.requestFormat(); err != nil {
		return err
	}
	if err := s.replaySubscriptions(); err != nil {
		return err
	}
	handler.OnReconnect()

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- s.readPump(conn, handler)
	}()

	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- s.writePump(conn)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-readErrCh:
		return err
	case err := <-writeErrCh:
		return err
	}
}

func (s *StreamClient) readPump(conn *websocket.Conn, handler StreamHandler) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("broker: stream read: %w", err)
		}
		if msgType == websocket.TextMessage {
			// JSON acks/errors on the control channel; not a data frame.
			continue
		}

		for len(data) > 0 {
			frameType, trade, book, consumed, err := wire.DecodeFrame(data)
			if err != nil {
				s.log.Warn().Err(err).Msg("dropping malformed stream frame")
				break
			}
			switch frameType {
			case wire.FrameTrade:
				handler.OnTrade(trade)
			case wire.FrameBook:
				handler.OnBook(book)
			}
			data = data[consumed:]
		}
	}
}

func (s *StreamClient) writePump(conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("broker: stream write: %w", err)
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("broker: stream ping: %w", err)
			}
		case <-s.done:
			return nil
		}
	}
}

func (s *StreamClient) requestFormat() error {
	data, err := wire.EncodeFormat("binary")
	if err != nil {
		return err
	}
	return s.send(data)
}

// Subscribe registers symbols on channel and queues a subscribe control
// frame on the send buffer whether or not a connection is up; a frame
// queued while disconnected is written after the next dial. The registry
// entry is kept so a subsequent reconnect replays it. Before admitting
// the symbols it verifies current_slots + new_slots <= cap, rejecting the
// whole batch with ErrCapExceeded rather than partially subscribing.
func (s *StreamClient) Subscribe(channel wire.Channel, symbols []string) error {
	if err := s.registry.add(channel, symbols); err != nil {
		return err
	}

	data, err := wire.EncodeSubscribe(channel, symbols)
	if err != nil {
		return err
	}
	return s.send(data)
}

// Unsubscribe drops symbols from the registry and pushes an unsubscribe
// control frame.
func (s *StreamClient) Unsubscribe(channel wire.Channel, symbols []string) error {
	s.registry.remove(channel, symbols)

	data, err := wire.EncodeUnsubscribe(channel, symbols)
	if err != nil {
		return err
	}
	return s.send(data)
}

// SubscribedSymbols returns the current registry for a channel.
func (s *StreamClient) SubscribedSymbols(channel wire.Channel) []string {
	return s.registry.symbols(channel)
}

// replaySubscriptions re-sends every registered subscription after a
// reconnect, paced to avoid bursting the broker's control channel.
func (s *StreamClient) replaySubscriptions() error {
	snapshot := s.registry.snapshot()

	for ch, syms := range snapshot {
		if len(syms) == 0 {
			continue
		}
		data, err := wire.EncodeSubscribe(ch, syms)
		if err != nil {
			return err
		}
		if err := s.send(data); err != nil {
			return err
		}
		time.Sleep(s.pacingDelay)
	}
	return nil
}

func (s *StreamClient) send(data []byte) error {
	select {
	case s.sendCh <- data:
		return nil
	case <-time.After(writeWait):
		return fmt.Errorf("broker: control send timed out")
	}
}

// Close terminates the stream client's pumps and closes the connection.
func (s *StreamClient) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}
