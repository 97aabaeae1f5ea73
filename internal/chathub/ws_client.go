package chathub

import (
	"encoding/json"
	"sync"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	participant models.Participant
	Conn        *websocket.Conn
	Hub         *ManagerService
	Send        chan models.Event
	closeOnce   sync.Once
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, p models.Participant) *WebSocketClient {
	return &WebSocketClient{
		participant: p,
		Conn:        conn,
		Hub:         hub,
		Send:        make(chan models.Event, config.WSSendBuffer),
	}
}

func (c *WebSocketClient) Participant() models.Participant     { return c.participant }
func (c *WebSocketClient) GetSendChannel() chan<- models.Event { return c.Send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops writePump and then the connection.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	logger := log.With().Str("component", "ws").Str("key", c.participant.Key()).Logger()
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.WSMaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		var frame models.InboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn().Err(err).Msg("invalid frame from client")
			continue
		}
		if frame.Type == models.FramePing {
			continue
		}
		c.Hub.HandleInbound(c, frame)
	}
}

// writePump writes one JSON event per websocket message and keeps the
// connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
