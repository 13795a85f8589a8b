// Package carrier implements the Carrier Adapter (spec.md §4.2, §6.1,
// §6.2): uniform framing over two concrete carrier flavors. Grounded on
// the retrieval pack's telephony stream_manager.go (TwilioMessage JSON
// shape, HandleTwilioWS upgrade handler) for variant A, and on the
// teacher's base_streamer.go for the buffered, drop-with-counter channel
// discipline shared by both variants.
package carrier

import (
	"time"

	"github.com/voicebridge/voicebridge/internal/codec"
)

// CallerFrame is 20ms of PCM16 mono at 16kHz (320 samples, 640 bytes),
// as required by spec.md §3.
type CallerFrame struct {
	PCM16_16k []int16
	Seq       uint64
	TsMs      int64
	RMS       float64
}

// NewCallerFrame computes RMS and stamps the frame.
func NewCallerFrame(pcm []int16, seq uint64) CallerFrame {
	return CallerFrame{
		PCM16_16k: pcm,
		Seq:       seq,
		TsMs:      time.Now().UnixMilli(),
		RMS:       codec.RMS(pcm),
	}
}

// ControlEventKind enumerates out-of-band carrier lifecycle events.
type ControlEventKind int

const (
	ControlStart ControlEventKind = iota
	ControlStop
)

// ControlEvent signals stream lifecycle transitions (spec.md §4.2:
// "On start: capture the stream identifier. On stop: emit end-of-call.").
type ControlEvent struct {
	Kind       ControlEventKind
	StreamID   string
	ChannelID  string
	CallID     string
}

// Inbound is what recv() yields: at most one of Frame or Control is set;
// both are nil when an inbound message was dropped or ignored.
type Inbound struct {
	Frame   *CallerFrame
	Control *ControlEvent
}

// ErrClosed is returned by Send when the underlying socket is not
// writable (spec.md §4.2: "send drops (with counter) when the socket is
// not writable").
type ErrClosed struct{}

func (ErrClosed) Error() string { return "carrier: socket closed" }

// Adapter is the contract exposed upward by both carrier variants.
type Adapter interface {
	// Recv returns the next inbound item, or ok=false when the socket is
	// closed or unreadable. A Variant-A "stop" event is returned as a
	// ControlStop item with ok=true.
	Recv() (Inbound, bool)
	// Send writes PCM16/24k audio from the mixer to the carrier, encoding
	// and downsampling per the variant's outbound wire format. The write
	// itself blocks; a failed write drops the frame, increments a counter
	// and returns ErrClosed.
	Send(pcm24k []int16) error
	// Close releases the underlying connection.
	Close() error
	// DroppedFrames reports how many outbound frames were dropped due to
	// back-pressure.
	DroppedFrames() uint64
}
