// Package webrtc serves the payload camera's video to browser viewers.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

var errClosed = errors.New("viewer closed")

// Viewer is one browser's peer connection carrying a single H264 track
type Viewer struct {
	id    string
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP

	mu     sync.Mutex
	closed bool
}

// Config for viewer sessions
type Config struct {
	ICEServers []string // STUN/TURN server URLs
}

// DefaultICEServers is used when no ICE servers are configured
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

func (c Config) peerConfig() webrtc.Configuration {
	servers := c.ICEServers
	if len(servers) == 0 {
		servers = DefaultICEServers
	}
	cfg := webrtc.Configuration{}
	for _, url := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}
	return cfg
}

// NewViewer creates a peer connection with a video track attached.
// onICE receives every local candidate as it is gathered.
func NewViewer(id string, cfg Config, onICE func(webrtc.ICECandidateInit)) (*Viewer, error) {
	pc, err := webrtc.NewPeerConnection(cfg.peerConfig())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"ptu-camera",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && onICE != nil {
			onICE(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("viewer", id).Stringer("state", s).Msg("webrtc connection state")
	})

	return &Viewer{id: id, pc: pc, track: track}, nil
}

// Offer creates the local SDP offer once ICE gathering completes
func (v *Viewer) Offer() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return "", errClosed
	}

	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(v.pc)
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	return v.pc.LocalDescription().SDP, nil
}

// Answer applies the browser's SDP answer
func (v *Viewer) Answer(sdp string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errClosed
	}

	err := v.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddCandidate adds a remote ICE candidate
func (v *Viewer) AddCandidate(candidate, sdpMid string, sdpMLineIndex uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errClosed
	}

	err := v.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	})
	if err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// WriteRTP forwards one marshaled RTP packet to the viewer
func (v *Viewer) WriteRTP(packet []byte) error {
	_, err := v.track.Write(packet)
	return err
}

// Close tears down the peer connection
func (v *Viewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.pc.Close()
}
