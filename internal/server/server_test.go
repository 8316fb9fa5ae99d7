package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptu-remote/internal/driver"
	"ptu-remote/internal/protocol"
	"ptu-remote/internal/ptz"
	"ptu-remote/internal/rtsp"
)

type fakeDriver struct {
	mu      sync.Mutex
	motions []driver.Motion
	reject  error
	report  driver.Report
}

func (f *fakeDriver) Submit(m driver.Motion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject != nil {
		return f.reject
	}
	f.motions = append(f.motions, m)
	return nil
}

func (f *fakeDriver) Report() driver.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report
}

func (f *fakeDriver) JointNames() []string {
	return []string{"ptu_pan_joint", "ptu_tilt_joint"}
}

func (f *fakeDriver) setReject(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject = err
}

func (f *fakeDriver) submitted() []driver.Motion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Motion(nil), f.motions...)
}

func newTestServer(t *testing.T) (*Server, *fakeDriver, *httptest.Server) {
	d := &fakeDriver{report: driver.Report{Device: "ptu", Mode: driver.Normal, Status: "Pan: 0, Tilt: 0 (deg)"}}
	s := New(Config{Device: "ptu", Endpoint: "http://192.168.0.180/API/PTCmd"}, d)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, d, ts
}

func TestTelemetryEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/telemetry")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "normal", body["mode"])
	assert.Equal(t, "Pan: 0, Tilt: 0 (deg)", body["status"])
	assert.NotContains(t, body, "joint_state")
	assert.NotContains(t, body, "sample")
}

func TestJointEndpoint(t *testing.T) {
	_, d, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/joints/pan/position", "application/json", strings.NewReader(`{"value": 3.141592653589793}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/joints/tilt/velocity", "application/json", strings.NewReader(`{"value": -1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := d.submitted()
	require.Len(t, got, 2)
	assert.Equal(t, driver.MovePanPosition, got[0].Kind)
	assert.InDelta(t, 180.0, got[0].Value, 1e-9)
	assert.Equal(t, driver.MoveTiltVelocity, got[1].Kind)
	assert.InDelta(t, -180/math.Pi, got[1].Value, 1e-9)
}

func TestJointEndpointRejections(t *testing.T) {
	_, d, ts := newTestServer(t)
	post := func(path, body string) int {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post("/api/joints/pan/position", `{}`))
	assert.Equal(t, http.StatusBadRequest, post("/api/joints/pan/position", `nope`))
	assert.Equal(t, http.StatusNotFound, post("/api/joints/roll/position", `{"value": 1}`))

	d.setReject(driver.ErrDegraded)
	assert.Equal(t, http.StatusConflict, post("/api/joints/pan/position", `{"value": 1}`))

	d.setReject(driver.ErrQueueFull)
	assert.Equal(t, http.StatusServiceUnavailable, post("/api/pose", `{"pan": 1}`))
	assert.Empty(t, d.submitted())
}

func TestPoseEndpoint(t *testing.T) {
	_, d, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/pose", "application/json",
		strings.NewReader(`{"pan": 0.5, "tilt": -0.25, "pan_speed": 1, "tilt_speed": 0.5}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := d.submitted()
	require.Len(t, got, 1)
	assert.Equal(t, driver.MovePose, got[0].Kind)
	assert.InDelta(t, 0.5*180/math.Pi, got[0].Pose.Pan, 1e-9)
	assert.InDelta(t, -0.25*180/math.Pi, got[0].Pose.Tilt, 1e-9)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) protocol.Message {
	for {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func TestWebSocketGreeting(t *testing.T) {
	_, _, ts := newTestServer(t)
	conn := dial(t, ts)

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeStatus, msg.Type)
	var status protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&status))
	assert.Equal(t, "ptu", status.Device)
	assert.Equal(t, "normal", status.Mode)
	assert.Equal(t, []string{"ptu_pan_joint", "ptu_tilt_joint"}, status.Joints)
	assert.False(t, status.VideoEnabled)

	msg = readMessage(t, conn)
	assert.Equal(t, protocol.TypeTelemetry, msg.Type)
}

func TestWebSocketCommands(t *testing.T) {
	_, d, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, protocol.TypeTelemetry)

	send(t, conn, protocol.TypeJointCommand, protocol.JointCommandPayload{
		Joint: protocol.JointTilt, Control: protocol.ControlPosition, Value: -math.Pi / 4,
	})
	send(t, conn, protocol.TypePoseCommand, protocol.PoseCommandPayload{Pan: math.Pi / 2})
	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 42})

	msg := readUntil(t, conn, protocol.TypePong)
	var pong protocol.PongPayload
	require.NoError(t, msg.ParsePayload(&pong))
	assert.Equal(t, int64(42), pong.ClientTimestamp)

	// messages are handled in order, so both commands landed before the pong
	got := d.submitted()
	require.Len(t, got, 2)
	assert.Equal(t, driver.MoveTiltPosition, got[0].Kind)
	assert.InDelta(t, -45.0, got[0].Value, 1e-9)
	assert.Equal(t, driver.MovePose, got[1].Kind)
	assert.InDelta(t, 90.0, got[1].Pose.Pan, 1e-9)
}

func TestWebSocketErrors(t *testing.T) {
	_, d, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, protocol.TypeTelemetry)

	expectError := func(code string) {
		msg := readUntil(t, conn, protocol.TypeError)
		var e protocol.ErrorPayload
		require.NoError(t, msg.ParsePayload(&e))
		assert.Equal(t, code, e.Code)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	expectError(protocol.ErrInvalidMessage)

	send(t, conn, protocol.TypeJointCommand, protocol.JointCommandPayload{Joint: "zoom", Control: "position"})
	expectError(protocol.ErrInvalidCommand)

	d.setReject(driver.ErrDegraded)
	send(t, conn, protocol.TypeJointCommand, protocol.JointCommandPayload{Joint: "pan", Control: "velocity", Value: 1})
	expectError(protocol.ErrDeviceDegraded)
}

func TestPublishBroadcasts(t *testing.T) {
	s, _, ts := newTestServer(t)
	a := dial(t, ts)
	b := dial(t, ts)
	readUntil(t, a, protocol.TypeTelemetry)
	readUntil(t, b, protocol.TypeTelemetry)

	s.Publish(driver.Report{Device: "ptu", Mode: driver.Degraded, Status: "down"})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readUntil(t, conn, protocol.TypeTelemetry)
		var report map[string]any
		require.NoError(t, msg.ParsePayload(&report))
		assert.Equal(t, "degraded", report["mode"])
		assert.Equal(t, "down", report["status"])
	}
}

func TestTelemetryCarriesFreshSample(t *testing.T) {
	_, d, ts := newTestServer(t)
	d.mu.Lock()
	d.report.Sample = &ptz.Sample{PanPosition: 12.5}
	d.mu.Unlock()

	resp, err := http.Get(ts.URL + "/api/telemetry")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Sample *ptz.Sample `json:"sample"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Sample)
	assert.Equal(t, 12.5, body.Sample.PanPosition)
}

func TestFeedAttachedBeforeStopIsClosedByStop(t *testing.T) {
	s := New(Config{Device: "ptu"}, &fakeDriver{})
	feed, err := rtsp.NewFeed("rtsp://127.0.0.1:8554/cam")
	require.NoError(t, err)

	require.True(t, s.attachFeed(feed))
	assert.Same(t, feed, s.videoFeed())
	assert.True(t, s.status().VideoEnabled)

	require.NoError(t, s.Stop(context.Background()))
	_, open := <-feed.Packets()
	assert.False(t, open)
}

func TestFeedConnectedAfterStopIsDropped(t *testing.T) {
	s := New(Config{Device: "ptu"}, &fakeDriver{})
	require.NoError(t, s.Stop(context.Background()))

	feed, err := rtsp.NewFeed("rtsp://127.0.0.1:8554/cam")
	require.NoError(t, err)
	assert.False(t, s.attachFeed(feed))
	assert.Nil(t, s.videoFeed())
	_, open := <-feed.Packets()
	assert.False(t, open)
}

func TestFeedAttachRacesStop(t *testing.T) {
	s := New(Config{Device: "ptu"}, &fakeDriver{})
	feed, err := rtsp.NewFeed("rtsp://127.0.0.1:8554/cam")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.attachFeed(feed)
	}()
	go func() {
		defer wg.Done()
		s.Stop(context.Background())
	}()
	wg.Wait()

	// whichever side won, the feed ends up closed
	select {
	case _, open := <-feed.Packets():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("feed left open after stop")
	}
}
