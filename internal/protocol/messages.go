package protocol

import "encoding/json"

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeTelemetry    = "telemetry"
	TypeJointCommand = "joint_command"
	TypePoseCommand  = "pose_command"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeError        = "error"
)

// Joint and control names accepted in joint commands
const (
	JointPan  = "pan"
	JointTilt = "tilt"

	ControlPosition = "position"
	ControlVelocity = "velocity"
)

// Error codes
const (
	ErrDeviceDegraded = "DEVICE_DEGRADED"
	ErrQueueFull      = "QUEUE_FULL"
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrInvalidCommand = "INVALID_COMMAND"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload describes the server to a newly connected client
type StatusPayload struct {
	Device       string   `json:"device"`
	Endpoint     string   `json:"endpoint"`
	Mode         string   `json:"mode"`
	Joints       []string `json:"joints"`
	VideoEnabled bool     `json:"video_enabled"`
	RTSPURL      string   `json:"rtsp_url,omitempty"`
}

// JointCommandPayload drives one axis. Value is radians for position,
// rad/s for velocity.
type JointCommandPayload struct {
	Joint   string  `json:"joint"`
	Control string  `json:"control"`
	Value   float64 `json:"value"`
}

// PoseCommandPayload moves both axes at once. Radians and rad/s.
type PoseCommandPayload struct {
	Pan       float64 `json:"pan"`
	Tilt      float64 `json:"tilt"`
	PanSpeed  float64 `json:"pan_speed"`
	TiltSpeed float64 `json:"tilt_speed"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
