// Package audio holds the per-call audio pipeline: μ-law transcoding, resampling,
// and the Bridge that moves caller audio into speech recognition and synthesized
// replies back to the carrier.
package audio

import "context"

const (
	// CarrierSampleRate is the rate of μ-law audio on the carrier media stream.
	CarrierSampleRate = 8000
	// STTSampleRate is the rate recognition sessions are opened with.
	STTSampleRate = 16000
	// FrameBytes is 20ms of μ-law audio at the carrier rate.
	FrameBytes = CarrierSampleRate / 50
)

// Transcript is one chunk delivered by a recognition session.
type Transcript struct {
	Text    string
	IsFinal bool
}

type STTConfig struct {
	SampleRate int
	Encoding   string
	Language   string
	VAD        bool
}

type STTProvider interface {
	CreateSession(ctx context.Context, cfg STTConfig) (STTSession, error)
}

// STTSession receives 16-bit little-endian PCM at the configured rate.
type STTSession interface {
	SendAudio(pcm []byte) error
	EndAudio() error
	OnPartial(fn func(Transcript))
	Close() error
}

type SynthesisOptions struct {
	Voice      string
	SampleRate int
}

// Synthesis is 16-bit little-endian mono PCM at SampleRate.
type Synthesis struct {
	Audio      []byte
	SampleRate int
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (Synthesis, error)
}

// Transport is the outbound half of the carrier media connection.
type Transport interface {
	SendMedia(streamID string, mulaw []byte) error
	Close() error
}

// ReplyFunc turns a final caller transcript into the text to speak back.
type ReplyFunc func(ctx context.Context, text string) (string, error)

type EventKind int

const (
	EventStart EventKind = iota + 1
	EventMedia
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventMedia:
		return "media"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// Event is a message delivered by the media transport. Payload is raw μ-law
// (already base64-decoded) and is only set for EventMedia.
type Event struct {
	Kind     EventKind
	StreamID string
	Track    string
	Payload  []byte
}
