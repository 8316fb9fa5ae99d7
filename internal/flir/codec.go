package flir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"ptu-remote/internal/ptz"
)

// Wire field codes of the PTCmd endpoint
const (
	fieldPanPosition  = "PP"
	fieldTiltPosition = "TP"
	fieldPanSpeed     = "PS"
	fieldTiltSpeed    = "TS"
	fieldPanDynamic   = "PD"
	fieldTiltDynamic  = "TD"
	fieldControl      = "C"

	controlVelocity = "V"

	// Angles and speeds travel as integers with two implied decimals
	scale = 100
)

var (
	// ErrValue means a payload value could not be put on the wire
	ErrValue = errors.New("value failure")
	// ErrMalformedResponse means a reply lacked a clean numeric field
	ErrMalformedResponse = errors.New("malformed response")
)

// Kind tags an outbound command
type Kind int

const (
	SetPanPosition Kind = iota
	SetTiltPosition
	SetPanSpeed
	SetTiltSpeed
	SetPose
	ReadPanPosition
	ReadTiltPosition
	ReadPanSpeed
	ReadTiltSpeed
)

var kindNames = map[Kind]string{
	SetPanPosition:   "set_pan_position",
	SetTiltPosition:  "set_tilt_position",
	SetPanSpeed:      "set_pan_speed",
	SetTiltSpeed:     "set_tilt_speed",
	SetPose:          "set_pose",
	ReadPanPosition:  "read_pan_position",
	ReadTiltPosition: "read_tilt_position",
	ReadPanSpeed:     "read_pan_speed",
	ReadTiltSpeed:    "read_tilt_speed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is one outbound request. Only the fields its Kind uses are encoded.
type Command struct {
	Kind      Kind
	Pan       float64 // deg
	Tilt      float64 // deg
	PanSpeed  float64 // deg/s
	TiltSpeed float64 // deg/s
}

// readKinds maps telemetry readings to their read command
var readKinds = map[ptz.Reading]Kind{
	ptz.PanPosition:  ReadPanPosition,
	ptz.TiltPosition: ReadTiltPosition,
	ptz.PanSpeed:     ReadPanSpeed,
	ptz.TiltSpeed:    ReadTiltSpeed,
}

// replyFields maps read commands to the field that carries the answer
var replyFields = map[Kind]string{
	ReadPanPosition:  fieldPanPosition,
	ReadTiltPosition: fieldTiltPosition,
	ReadPanSpeed:     fieldPanDynamic,
	ReadTiltSpeed:    fieldTiltDynamic,
}

// Encode builds the form payload for a command
func Encode(cmd Command) (url.Values, error) {
	v := url.Values{}
	var err error
	put := func(field string, x float64) {
		if err != nil {
			return
		}
		var s string
		s, err = scaled(x)
		if err != nil {
			err = fmt.Errorf("%s %s: %w", cmd.Kind, field, err)
			return
		}
		v.Set(field, s)
	}

	switch cmd.Kind {
	case SetPanPosition:
		put(fieldPanPosition, cmd.Pan)
		put(fieldPanSpeed, cmd.PanSpeed)
	case SetTiltPosition:
		put(fieldTiltPosition, cmd.Tilt)
		put(fieldTiltSpeed, cmd.TiltSpeed)
	case SetPanSpeed:
		put(fieldPanSpeed, cmd.PanSpeed)
		v.Set(fieldControl, controlVelocity)
	case SetTiltSpeed:
		put(fieldTiltSpeed, cmd.TiltSpeed)
		v.Set(fieldControl, controlVelocity)
	case SetPose:
		put(fieldPanPosition, cmd.Pan)
		put(fieldTiltPosition, cmd.Tilt)
		put(fieldPanSpeed, cmd.PanSpeed)
		put(fieldTiltSpeed, cmd.TiltSpeed)
	default:
		field, ok := replyFields[cmd.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: unknown command %s", ErrValue, cmd.Kind)
		}
		v.Set(field, "")
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Decode extracts the field answering a read command and scales it back to
// degrees or deg/s
func Decode(kind Kind, raw []byte) (float64, error) {
	field, ok := replyFields[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a read command", ErrMalformedResponse, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var reply map[string]any
	if err := dec.Decode(&reply); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	value, ok := reply[field]
	if !ok {
		return 0, fmt.Errorf("%w: field %s missing", ErrMalformedResponse, field)
	}

	var text string
	switch value := value.(type) {
	case json.Number:
		text = value.String()
	case string:
		// some firmware quotes numbers
		text = value
	default:
		return 0, fmt.Errorf("%w: field %s is %T", ErrMalformedResponse, field, value)
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: field %s=%q is not numeric", ErrMalformedResponse, field, text)
	}
	return n / scale, nil
}

// scaled renders x with two implied decimals
func scaled(x float64) (string, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return "", fmt.Errorf("%w: %v", ErrValue, x)
	}
	return strconv.FormatInt(int64(math.Round(x*scale)), 10), nil
}
