package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/filler/internal/core/domain"
)

// WSConfig configures a websocket feed.
type WSConfig struct {
	URL                 string        `yaml:"url"`
	MaxMessagesInFlight int           `yaml:"max_messages_in_flight"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	Contracts           []string      `yaml:"-"`
}

// Messages exchanged with the relay.
const (
	msgStart = "start"
	msgAck   = "ack"
	msgBlock = "block"
	msgError = "error"
)

type clientMessage struct {
	Type                string   `json:"type"`
	StartBlock          uint64   `json:"start_block,omitempty"`
	MaxMessagesInFlight int      `json:"max_messages_in_flight,omitempty"`
	Contracts           []string `json:"contracts,omitempty"`
	Count               int      `json:"count,omitempty"`
}

type serverMessage struct {
	Type    string        `json:"type"`
	Block   *blockMessage `json:"block,omitempty"`
	Message string        `json:"message,omitempty"`
}

// WSSource streams decoded blocks from a relay over a websocket. After
// connecting it sends a start request; the relay keeps at most
// MaxMessagesInFlight blocks unacknowledged.
type WSSource struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closeMu sync.Once
}

// DialWS connects to cfg.URL and requests blocks from startBlock on.
func DialWS(ctx context.Context, cfg WSConfig, startBlock uint64, logger *slog.Logger) (*WSSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMessagesInFlight <= 0 {
		cfg.MaxMessagesInFlight = DefaultQueueSize
	}

	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial feed %s: %w", cfg.URL, err)
	}

	s := &WSSource{conn: conn, logger: logger}
	start := clientMessage{
		Type:                msgStart,
		StartBlock:          startBlock,
		MaxMessagesInFlight: cfg.MaxMessagesInFlight,
		Contracts:           cfg.Contracts,
	}
	if err := s.write(start); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send start request: %w", err)
	}

	logger.Info("Feed connected", "url", cfg.URL, "start_block", startBlock,
		"in_flight", cfg.MaxMessagesInFlight)
	return s, nil
}

func (s *WSSource) write(msg clientMessage) error {
	data, err := wireJSON.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Next blocks until the relay sends the next block. Cancelling ctx closes
// the connection, since a websocket read cannot be interrupted otherwise.
func (s *WSSource) Next(ctx context.Context) (*domain.Block, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("feed read: %w", err)
		}

		var msg serverMessage
		if err := wireJSON.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode feed message: %w", err)
		}

		switch msg.Type {
		case msgBlock:
			if msg.Block == nil {
				return nil, errors.New("feed sent empty block message")
			}
			return msg.Block.toDomain()
		case msgError:
			return nil, fmt.Errorf("feed error: %s", msg.Message)
		default:
			s.logger.Debug("Ignoring feed message", "type", msg.Type)
		}
	}
}

// Ack releases n in-flight slots on the relay.
func (s *WSSource) Ack(n int) error {
	if n <= 0 {
		return nil
	}
	return s.write(clientMessage{Type: msgAck, Count: n})
}

func (s *WSSource) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
