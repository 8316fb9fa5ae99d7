// Package rtsp pulls the video stream of the camera carried by the unit.
package rtsp

import (
	"errors"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

var errNoVideo = errors.New("stream has no video media")

// maxBackoff caps the delay between reconnect attempts
const maxBackoff = 30 * time.Second

// Feed keeps an RTSP session to the payload camera open and exposes its
// marshaled RTP packets on a channel
type Feed struct {
	url     string
	packets chan []byte
	stopCh  chan struct{}

	mu      sync.Mutex
	client  *gortsplib.Client
	stopped bool
}

// NewFeed validates rtspURL and prepares a feed; call Start to connect
func NewFeed(rtspURL string) (*Feed, error) {
	if _, err := base.ParseURL(rtspURL); err != nil {
		return nil, err
	}
	return &Feed{
		url:     rtspURL,
		packets: make(chan []byte, 500),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start opens the session; lost sessions are reopened in the background
func (f *Feed) Start() error {
	return f.open()
}

// Packets returns the channel of RTP packets. It is closed by Close.
func (f *Feed) Packets() <-chan []byte {
	return f.packets
}

// Close ends the session and stops reconnecting
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	client := f.client
	f.mu.Unlock()

	close(f.stopCh)
	if client != nil {
		client.Close()
	}
	close(f.packets)
	return nil
}

func (f *Feed) open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			log.Debug().Err(err).Str("url", f.url).Msg("rtsp decode error")
		},
	}

	u, err := base.ParseURL(f.url)
	if err != nil {
		return err
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return err
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return err
	}

	media := pickVideo(desc)
	if media == nil {
		client.Close()
		return errNoVideo
	}
	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return err
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		f.forward(buf)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return err
	}

	f.client = client
	log.Info().Str("url", f.url).Msg("rtsp feed playing")
	go f.supervise(client)
	return nil
}

// forward hands a packet to the channel, dropping it when the reader lags
func (f *Feed) forward(buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	select {
	case f.packets <- buf:
	default:
	}
}

// supervise waits for the session to end and reopens it with exponential backoff
func (f *Feed) supervise(client *gortsplib.Client) {
	err := client.Wait()
	if f.isStopped() {
		return
	}
	log.Warn().Err(err).Str("url", f.url).Msg("rtsp feed lost")

	for attempt := 1; ; attempt++ {
		select {
		case <-f.stopCh:
			return
		case <-time.After(backoff(attempt)):
		}
		if err := f.open(); err != nil {
			log.Warn().Err(err).Str("url", f.url).Int("attempt", attempt).Msg("rtsp reconnect failed")
			continue
		}
		return
	}
}

func (f *Feed) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// pickVideo prefers H264/H265 media and falls back to any video media
func pickVideo(desc *description.Session) *description.Media {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch forma.(type) {
			case *format.H264, *format.H265:
				return media
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media
		}
	}
	return nil
}

func backoff(attempt int) time.Duration {
	if attempt > 6 {
		return maxBackoff
	}
	return min(time.Duration(1<<uint(attempt-1))*time.Second, maxBackoff)
}
