package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"voice-platform/internal/audio"
)

// frame is the JSON envelope carriers use on media websockets. Telnyx sends
// stream_id; Twilio sends streamSid.
type frame struct {
	Event     string        `json:"event"`
	StreamID  string        `json:"stream_id,omitempty"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSid     string `json:"streamSid,omitempty"`
	CallSid       string `json:"callSid,omitempty"`
	CallControlID string `json:"call_control_id,omitempty"`
}

type mediaPayload struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

// decodeFrame maps a websocket message to a bridge event. ok is false for
// frames the bridge does not consume (connected, mark, dtmf).
func decodeFrame(data []byte) (ev audio.Event, twilio bool, ok bool, err error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return audio.Event{}, false, false, fmt.Errorf("media: decode frame: %w", err)
	}
	streamID := f.StreamID
	if streamID == "" {
		streamID = f.StreamSid
		twilio = streamID != ""
	}
	if streamID == "" && f.Start != nil && f.Start.StreamSid != "" {
		streamID, twilio = f.Start.StreamSid, true
	}

	switch f.Event {
	case "start":
		return audio.Event{Kind: audio.EventStart, StreamID: streamID}, twilio, true, nil
	case "media":
		if f.Media == nil || f.Media.Payload == "" {
			return audio.Event{}, twilio, false, nil
		}
		payload, err := base64.StdEncoding.DecodeString(f.Media.Payload)
		if err != nil {
			return audio.Event{}, twilio, false, fmt.Errorf("media: decode payload: %w", err)
		}
		track := f.Media.Track
		if track == "" {
			track = audio.TrackInbound
		}
		return audio.Event{Kind: audio.EventMedia, StreamID: streamID, Track: track, Payload: payload}, twilio, true, nil
	case "stop":
		return audio.Event{Kind: audio.EventStop, StreamID: streamID}, twilio, true, nil
	}
	return audio.Event{}, twilio, false, nil
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

type outboundFrame struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Media     outboundMedia `json:"media"`
}

func encodeMedia(streamSid string, mulaw []byte) ([]byte, error) {
	return json.Marshal(outboundFrame{
		Event:     "media",
		StreamSid: streamSid,
		Media:     outboundMedia{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}
