// Package telemetry records driver reports in InfluxDB.
package telemetry

import (
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/rs/zerolog/log"

	"ptu-remote/internal/driver"
)

const measurement = "ptu.telemetry"

// Config for the InfluxDB sink
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// PointWriter is the non-blocking write side of an InfluxDB client
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Recorder turns reports into points. Telemetry fields are written only for
// reports carrying a fresh sample.
type Recorder struct {
	w PointWriter
}

// NewRecorder creates a recorder writing to w
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{w: w}
}

// Publish implements driver.Publisher
func (r *Recorder) Publish(rep driver.Report) {
	tags := map[string]string{
		"device": rep.Device,
		"mode":   rep.Mode.String(),
	}
	r.w.WritePoint(influxdb2.NewPoint(measurement, tags, fields(rep), rep.Stamp))
}

func fields(rep driver.Report) map[string]interface{} {
	f := map[string]interface{}{
		"degraded": rep.Mode == driver.Degraded,
	}
	if rep.Sample == nil {
		return f
	}
	f["pan_position"] = rep.Sample.PanPosition
	f["tilt_position"] = rep.Sample.TiltPosition
	f["pan_speed"] = rep.Sample.PanSpeed
	f["tilt_speed"] = rep.Sample.TiltSpeed
	return f
}

// Influx owns a client and its asynchronous write API
type Influx struct {
	*Recorder
	client   influxdb2.Client
	writeAPI api.WriteApi
}

// Dial creates the client; writes are batched and errors logged
func Dial(cfg Config) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteApi(cfg.Org, cfg.Bucket)

	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Str("url", cfg.URL).Msg("influx write error")
		}
	}()

	return &Influx{
		Recorder: NewRecorder(writeAPI),
		client:   client,
		writeAPI: writeAPI,
	}
}

// Close flushes pending points and closes the client
func (i *Influx) Close() {
	i.writeAPI.Flush()
	i.writeAPI.Close()
	i.client.Close()
}
