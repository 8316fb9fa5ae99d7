package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"ptu-remote/internal/protocol"
	"ptu-remote/internal/webrtc"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 65536
)

// Client represents a connected WebSocket client
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	send    chan []byte
	rtpChan chan []byte // Per-client RTP channel
	stopRTP chan struct{}

	mu     sync.Mutex
	viewer *webrtc.Viewer
	closed bool
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  s,
		send:    make(chan []byte, 256),
		rtpChan: make(chan []byte, 500),
		stopRTP: make(chan struct{}),
	}
}

// enqueue queues an encoded message, dropping it when the buffer is full
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Debug().Str("client", c.id).Msg("client send buffer full, dropping message")
	}
}

func (c *Client) sendMessage(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to encode message")
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

func (c *Client) startVideo(cfg webrtc.Config) error {
	viewer, err := webrtc.NewViewer(c.id, cfg, func(candidate pwebrtc.ICECandidateInit) {
		payload := protocol.ICECandidatePayload{Candidate: candidate.Candidate}
		if candidate.SDPMid != nil {
			payload.SDPMid = *candidate.SDPMid
		}
		if candidate.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *candidate.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return viewer.Close()
	}
	c.viewer = viewer
	c.mu.Unlock()

	offer, err := viewer.Offer()
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	go c.forwardRTP(viewer)
	return nil
}

func (c *Client) currentViewer() *webrtc.Viewer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer
}

func (c *Client) forwardRTP(viewer *webrtc.Viewer) {
	for {
		select {
		case <-c.stopRTP:
			return
		case packet := <-c.rtpChan:
			if err := viewer.WriteRTP(packet); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("websocket error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, "Failed to parse message")
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeJointCommand:
		var payload protocol.JointCommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		m, err := jointMotion(payload.Joint, payload.Control, payload.Value)
		if err != nil {
			c.sendError(protocol.ErrInvalidCommand, err.Error())
			return
		}
		if rejected := c.server.submit(m); rejected != nil {
			c.sendMessage(protocol.TypeError, rejected)
		}

	case protocol.TypePoseCommand:
		var payload protocol.PoseCommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		if rejected := c.server.submit(poseMotion(payload)); rejected != nil {
			c.sendMessage(protocol.TypeError, rejected)
		}

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if v := c.currentViewer(); v != nil {
			if err := v.Answer(payload.SDP); err != nil {
				log.Warn().Err(err).Str("client", c.id).Msg("failed to set answer")
			}
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if v := c.currentViewer(); v != nil {
			if err := v.AddCandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				log.Warn().Err(err).Str("client", c.id).Msg("failed to add ICE candidate")
			}
		}

	default:
		c.sendError(protocol.ErrInvalidMessage, "unknown message type "+msg.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.stopRTP)
	if c.viewer != nil {
		c.viewer.Close()
		c.viewer = nil
	}
	close(c.send)
}
