package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ptu-remote/internal/driver"
	"ptu-remote/internal/protocol"
	"ptu-remote/internal/rtsp"
	"ptu-remote/internal/webrtc"
)

// Config for the server
type Config struct {
	ListenAddr string
	StaticDir  string
	RTSPURL    string
	ICEServers []string
	Device     string // unit name shown to clients
	Endpoint   string // unit endpoint shown to clients
}

// Driver is the part of driver.Driver the server talks to
type Driver interface {
	Submit(m driver.Motion) error
	Report() driver.Report
	JointNames() []string
}

// Server carries motion commands in and reports out over websocket and REST
type Server struct {
	cfg      Config
	driver   Driver
	upgrader websocket.Upgrader
	http     *http.Server

	clientsMu sync.RWMutex
	clients   map[*Client]bool
	feed      *rtsp.Feed
	stopped   bool
}

// New creates a new server instance
func New(cfg Config, d Driver) *Server {
	s := &Server{
		cfg:     cfg,
		driver:  d,
		clients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the router serving the API, the websocket and static files
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/telemetry", s.handleTelemetry).Methods(http.MethodGet)
	api.HandleFunc("/joints/{joint}/{control}", s.handleJoint).Methods(http.MethodPost)
	api.HandleFunc("/pose", s.handlePose).Methods(http.MethodPost)

	if s.cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return r
}

// Start connects the video feed if configured and serves until Stop
func (s *Server) Start() error {
	if s.cfg.RTSPURL != "" {
		feed, err := rtsp.NewFeed(s.cfg.RTSPURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid RTSP URL, video disabled")
		} else if err := feed.Start(); err != nil {
			log.Warn().Err(err).Str("url", s.cfg.RTSPURL).Msg("failed to connect to RTSP, video disabled")
		} else if !s.attachFeed(feed) {
			return http.ErrServerClosed
		}
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("server starting")
	return s.http.ListenAndServe()
}

// Stop closes every client, the video feed and the listener
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	s.stopped = true
	for client := range s.clients {
		client.Close()
	}
	feed := s.feed
	s.clientsMu.Unlock()

	if feed != nil {
		feed.Close()
	}
	return s.http.Shutdown(ctx)
}

// attachFeed starts relaying feed to clients. A feed connected after Stop is
// closed instead and false is returned.
func (s *Server) attachFeed(feed *rtsp.Feed) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.stopped {
		feed.Close()
		return false
	}
	s.feed = feed
	go s.broadcastRTP(feed)
	return true
}

func (s *Server) videoFeed() *rtsp.Feed {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return s.feed
}

// Publish implements driver.Publisher by pushing the report to every client
func (s *Server) Publish(r driver.Report) {
	msg, err := encode(protocol.TypeTelemetry, r)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode telemetry")
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		client.enqueue(msg)
	}
}

// broadcastRTP fans the feed's packets out to every client
func (s *Server) broadcastRTP(feed *rtsp.Feed) {
	for packet := range feed.Packets() {
		s.clientsMu.RLock()
		for client := range s.clients {
			// Non-blocking send to each client's RTP channel
			select {
			case client.rtpChan <- packet:
			default:
			}
		}
		s.clientsMu.RUnlock()
	}
}

func (s *Server) status() protocol.StatusPayload {
	return protocol.StatusPayload{
		Device:       s.cfg.Device,
		Endpoint:     s.cfg.Endpoint,
		Mode:         s.driver.Report().Mode.String(),
		Joints:       s.driver.JointNames(),
		VideoEnabled: s.videoFeed() != nil,
		RTSPURL:      s.cfg.RTSPURL,
	}
}

func (s *Server) removeClient(c *Client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

// submit hands a motion to the driver and maps rejections to protocol codes
func (s *Server) submit(m driver.Motion) *protocol.ErrorPayload {
	err := s.driver.Submit(m)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driver.ErrDegraded):
		return &protocol.ErrorPayload{Code: protocol.ErrDeviceDegraded, Message: err.Error()}
	case errors.Is(err, driver.ErrQueueFull):
		return &protocol.ErrorPayload{Code: protocol.ErrQueueFull, Message: err.Error()}
	}
	return &protocol.ErrorPayload{Code: protocol.ErrInvalidCommand, Message: err.Error()}
}

// jointMotion converts a joint command (radians) into a driver motion
func jointMotion(joint, control string, value float64) (driver.Motion, error) {
	var kind driver.MotionKind
	switch {
	case joint == protocol.JointPan && control == protocol.ControlPosition:
		kind = driver.MovePanPosition
	case joint == protocol.JointTilt && control == protocol.ControlPosition:
		kind = driver.MoveTiltPosition
	case joint == protocol.JointPan && control == protocol.ControlVelocity:
		kind = driver.MovePanVelocity
	case joint == protocol.JointTilt && control == protocol.ControlVelocity:
		kind = driver.MoveTiltVelocity
	default:
		return driver.Motion{}, fmt.Errorf("unknown joint command %s/%s", joint, control)
	}
	return driver.MotionFromRadians(kind, value), nil
}

func poseMotion(p protocol.PoseCommandPayload) driver.Motion {
	return driver.PoseFromRadians(p.Pan, p.Tilt, p.PanSpeed, p.TiltSpeed)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Report())
}

func (s *Server) handleJoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorPayload{
			Code:    protocol.ErrInvalidMessage,
			Message: "body must be {\"value\": <number>}",
		})
		return
	}

	m, err := jointMotion(vars["joint"], vars["control"], *body.Value)
	if err != nil {
		writeJSON(w, http.StatusNotFound, protocol.ErrorPayload{Code: protocol.ErrInvalidCommand, Message: err.Error()})
		return
	}
	s.respondSubmit(w, m)
}

func (s *Server) handlePose(w http.ResponseWriter, r *http.Request) {
	var p protocol.PoseCommandPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorPayload{Code: protocol.ErrInvalidMessage, Message: err.Error()})
		return
	}
	s.respondSubmit(w, poseMotion(p))
}

func (s *Server) respondSubmit(w http.ResponseWriter, m driver.Motion) {
	rejected := s.submit(m)
	if rejected == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	code := http.StatusBadRequest
	switch rejected.Code {
	case protocol.ErrDeviceDegraded:
		code = http.StatusConflict
	case protocol.ErrQueueFull:
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rejected)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func encode(msgType string, payload any) ([]byte, error) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	client := newClient(s, conn)

	s.clientsMu.Lock()
	if s.stopped {
		s.clientsMu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	s.clientsMu.Unlock()

	go client.writePump()
	go client.readPump()

	client.sendMessage(protocol.TypeStatus, s.status())
	client.sendMessage(protocol.TypeTelemetry, s.driver.Report())

	if s.videoFeed() != nil {
		if err := client.startVideo(webrtc.Config{ICEServers: s.cfg.ICEServers}); err != nil {
			log.Warn().Err(err).Str("client", client.id).Msg("failed to start video")
		}
	}
}
