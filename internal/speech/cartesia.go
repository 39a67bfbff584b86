// Package speech implements the audio.STTProvider and audio.Synthesizer
// contracts against Cartesia.
package speech

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"
)

var (
	ErrNotConfigured = errors.New("speech: cartesia api key is required")
	ErrSessionClosed = errors.New("speech: session closed")
)

// Config is shared by the recognizer and the synthesizer. The URL fields are
// overridable for tests.
type Config struct {
	APIKey     string
	BaseURL    string
	WSURL      string
	STTModel   string
	TTSModel   string
	Voice      string
	Language   string
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = cartesiaBaseURL
	}
	if c.WSURL == "" {
		c.WSURL = cartesiaWSURL
	}
	if c.STTModel == "" {
		c.STTModel = "ink-whisper"
	}
	if c.TTSModel == "" {
		c.TTSModel = "sonic-3"
	}
	if c.Voice == "" {
		c.Voice = "a0e99841-438c-4a64-b679-ae501e7d6091"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// APIError is a non-2xx answer from Cartesia.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech: cartesia error %d: %s", e.Status, e.Body)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Status: resp.StatusCode, Body: string(body)}
}
