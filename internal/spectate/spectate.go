// Package spectate captures a finished battle's event log by joining its
// room on a simulator server over WebSocket and accumulating the streamed
// protocol lines until the battle is decided.
package spectate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"battlerewind/rewinder/internal/logging"
)

// ErrClosed is returned when the server closes the stream before a result.
var ErrClosed = errors.New("stream closed before the battle ended")

// Client is one spectator connection.
type Client struct {
	conn *websocket.Conn
	log  *logging.Logger
}

// Dial connects to a simulator server's WebSocket endpoint.
func Dial(serverURL string, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial simulator: %w", err)
	}
	logger.Info("connected to simulator", logging.String("url", parsed.String()))
	return &Client{conn: conn, log: logger}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Send writes one raw protocol message.
func (c *Client) Send(message string) error {
	if c == nil || c.conn == nil {
		return errors.New("client is not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// JoinRoom subscribes to a battle room, normalizing the battle- prefix.
func (c *Client) JoinRoom(roomID string) error {
	trimmed := strings.TrimSpace(roomID)
	if trimmed == "" {
		return errors.New("room id must not be empty")
	}
	if !strings.HasPrefix(trimmed, "battle-") {
		trimmed = "battle-" + trimmed
	}
	return c.Send("|/join " + trimmed)
}

// Capture reads streamed messages and accumulates battle protocol lines
// until a win, tie, or context cancellation. The returned text is a complete
// event log ready for reconstruction.
func (c *Client) Capture(ctx context.Context) (string, error) {
	if c == nil || c.conn == nil {
		return "", errors.New("client is not connected")
	}
	type frame struct {
		data []byte
		err  error
	}
	frames := make(chan frame, 1)
	go func() {
		for {
			_, data, err := c.conn.ReadMessage()
			select {
			case frames <- frame{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var captured strings.Builder
	for {
		select {
		case <-ctx.Done():
			return captured.String(), ctx.Err()
		case received := <-frames:
			if received.err != nil {
				return captured.String(), fmt.Errorf("%w: %v", ErrClosed, received.err)
			}
			done := false
			for _, line := range strings.Split(string(received.data), "\n") {
				//1.- Room frames open with a >roomid marker; only protocol
				// lines belong in the captured log.
				if !strings.HasPrefix(line, "|") {
					continue
				}
				captured.WriteString(line)
				captured.WriteString("\n")
				if strings.HasPrefix(line, "|win|") || strings.HasPrefix(line, "|tie") {
					done = true
				}
			}
			if done {
				c.log.Info("battle ended, capture complete")
				return captured.String(), nil
			}
		}
	}
}
