package carrier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/codec"
	"github.com/voicebridge/voicebridge/internal/logging"
)

// mulawEvent mirrors the Twilio-style JSON control/media envelope
// (spec.md §6.1 Variant A), grounded on the pack's TwilioMessage struct.
type mulawEvent struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Media     *mediaBody `json:"media,omitempty"`
}

type mediaBody struct {
	Payload string `json:"payload"`
}

// JSONCarrier implements Adapter for the JSON-mulaw carrier flavor
// (Twilio Media Streams and compatible providers).
type JSONCarrier struct {
	logger   logging.Logger
	conn     *websocket.Conn
	writeMu  sync.Mutex
	streamID string
	seq      uint64
	dropped  uint64
}

// NewJSONCarrier wraps an already-upgraded WebSocket connection.
func NewJSONCarrier(logger logging.Logger, conn *websocket.Conn) *JSONCarrier {
	return &JSONCarrier{logger: logger, conn: conn}
}

func (c *JSONCarrier) Recv() (Inbound, bool) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Inbound{}, false
	}

	var ev mulawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warnw("carrier: malformed inbound frame, dropping", "error", err)
		return Inbound{}, true // keep the stream alive, per spec.md §7 AudioDecodeError
	}

	switch ev.Event {
	case "start":
		c.streamID = ev.StreamSid
		return Inbound{Control: &ControlEvent{Kind: ControlStart, StreamID: ev.StreamSid}}, true
	case "stop":
		return Inbound{Control: &ControlEvent{Kind: ControlStop, StreamID: c.streamID}}, true
	case "media":
		if ev.Media == nil {
			return Inbound{}, true
		}
		mulawBytes, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
		if err != nil {
			c.logger.Warnw("carrier: bad base64 payload, dropping frame", "error", err)
			return Inbound{}, true
		}
		pcm8k := codec.MulawDecode(mulawBytes)
		pcm16k := codec.Resample(pcm8k, 8000, 16000)
		c.seq++
		frame := NewCallerFrame(pcm16k, c.seq)
		return Inbound{Frame: &frame}, true
	default:
		return Inbound{}, true
	}
}

// Send downsamples 24k mixer audio to 8k, mu-law encodes, and wraps it in
// a media envelope bound to the captured stream identifier (spec.md §6.2
// Variant A).
func (c *JSONCarrier) Send(pcm24k []int16) error {
	pcm8k := codec.Resample(pcm24k, 24000, 8000)
	mulawBytes := codec.MulawEncode(pcm8k)
	payload := base64.StdEncoding.EncodeToString(mulawBytes)

	env := mulawEvent{Event: "media", StreamSid: c.streamID, Media: &mediaBody{Payload: payload}}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		atomic.AddUint64(&c.dropped, 1)
		return fmt.Errorf("%w: %v", ErrClosed{}, err)
	}
	return nil
}

func (c *JSONCarrier) Close() error { return c.conn.Close() }

func (c *JSONCarrier) DroppedFrames() uint64 { return atomic.LoadUint64(&c.dropped) }
