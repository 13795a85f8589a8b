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

// reverseMediaEnvelope is the outbound wire format for Variant B
// (spec.md §6.2): PCM LINEAR, never mu-law, bound to
// {streamId, channelId, callId}. DESIGN.md Open Question #4.
type reverseMediaEnvelope struct {
	Event     string `json:"event"`
	StreamID  string `json:"streamId"`
	ChannelID string `json:"channelId"`
	CallID    string `json:"callId"`
	Payload   string `json:"payload"`
}

// PCMCarrier implements Adapter for the binary-PCM carrier flavor.
// There is no JSON control channel: stream open/close is inferred from
// the WebSocket lifecycle (spec.md §4.2 Variant B).
type PCMCarrier struct {
	logger    logging.Logger
	conn      *websocket.Conn
	writeMu   sync.Mutex
	streamID  string
	channelID string
	callID    string
	seq       uint64
	dropped   uint64
}

// PCMCarrierIDs carries the out-of-band identifiers the outbound envelope
// requires; Variant B has no inbound JSON control frames to source them
// from, so they must be supplied at construction (e.g. from the HTTP
// upgrade request's query string or the outbound call's CallContext).
type PCMCarrierIDs struct {
	StreamID  string
	ChannelID string
	CallID    string
}

// NewPCMCarrier wraps an already-upgraded WebSocket connection.
func NewPCMCarrier(logger logging.Logger, conn *websocket.Conn, ids PCMCarrierIDs) *PCMCarrier {
	return &PCMCarrier{
		logger:    logger,
		conn:      conn,
		streamID:  ids.StreamID,
		channelID: ids.ChannelID,
		callID:    ids.CallID,
	}
}

func (c *PCMCarrier) Recv() (Inbound, bool) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return Inbound{}, false
	}
	if msgType != websocket.BinaryMessage {
		return Inbound{}, true
	}

	pcm441, err := codec.PCMBytesToInt16(data)
	if err != nil {
		c.logger.Warnw("carrier: odd-length pcm payload, dropping frame", "error", err)
		return Inbound{}, true
	}
	pcm16k := codec.Resample(pcm441, 44100, 16000)
	c.seq++
	frame := NewCallerFrame(pcm16k, c.seq)
	return Inbound{Frame: &frame}, true
}

// Send downsamples 24k mixer audio to 8k PCM LINEAR (never mu-law) and
// wraps it in a reverse-media envelope (spec.md §6.2 Variant B).
func (c *PCMCarrier) Send(pcm24k []int16) error {
	pcm8k := codec.Resample(pcm24k, 24000, 8000)
	payload := base64.StdEncoding.EncodeToString(codec.Int16ToPCMBytes(pcm8k))

	env := reverseMediaEnvelope{
		Event: "reverse-media", StreamID: c.streamID, ChannelID: c.channelID, CallID: c.callID,
		Payload: payload,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		atomic.AddUint64(&c.dropped, 1)
		return fmt.Errorf("%w: %v", ErrClosed{}, err)
	}
	return nil
}

func (c *PCMCarrier) Close() error { return c.conn.Close() }

func (c *PCMCarrier) DroppedFrames() uint64 { return atomic.LoadUint64(&c.dropped) }
