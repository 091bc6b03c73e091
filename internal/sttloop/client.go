package sttloop

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	audioring "github.com/ctxlens/backend/pkg/io/stt/audioRing"
	"github.com/ctxlens/backend/pkg/io/stt/whisper"
	"github.com/ctxlens/backend/pkg/Logger"
)

// WhisperTranscriber adapts whisper.WhisperClient to the Transcriber
// interface the loop depends on.
type WhisperTranscriber struct {
	client *whisper.WhisperClient
}

func NewWhisperTranscriber(client *whisper.WhisperClient) *WhisperTranscriber {
	return &WhisperTranscriber{client: client}
}

func (w *WhisperTranscriber) TranscribeAudio(ctx context.Context, frames []audioring.AudioInput) (*TranscriptionResult, error) {
	resp, err := w.client.TranscribeAudio(ctx, frames)
	if err != nil {
		return nil, err
	}
	return &TranscriptionResult{Text: resp.Text}, nil
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Client owns the loop's reconnecting WebSocket connection to the
// gateway, per §4.11's "simple reconnect-with-backoff" requirement.
type Client struct {
	log  *Logger.Logger
	loop *Loop
	url  string
}

func NewClient(log *Logger.Logger, loop *Loop, gatewayURL string) *Client {
	return &Client{log: log, loop: loop, url: gatewayURL}
}

// Run dials, redials on failure with exponential backoff, and drains
// the loop's outbound channel onto the socket until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.Warnf("sttloop: dial %s failed: %v", c.url, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = minBackoff
		c.loop.SetConnected(true)
		c.log.Infof("sttloop: connected to gateway at %s", c.url)
		c.drain(ctx, conn)
		c.loop.SetConnected(false)
		_ = conn.Close()
	}
}

// drain reads (to notice disconnects) and writes until either fails.
func (c *Client) drain(ctx context.Context, conn *websocket.Conn) {
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-disconnected:
			return
		case e := <-c.loop.Outbound():
			if err := conn.WriteJSON(e); err != nil {
				c.log.Warnf("sttloop: send failed, buffering for retry: %v", err)
				c.loop.Requeue(e)
				return
			}
		}
	}
}
