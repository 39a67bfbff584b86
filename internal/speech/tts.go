package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"voice-platform/internal/audio"
)

const ttsSampleRate = 24000

// CartesiaTTS synthesizes raw 16-bit PCM through POST /tts/bytes.
type CartesiaTTS struct {
	cfg Config
}

func NewCartesiaTTS(cfg Config) (*CartesiaTTS, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	return &CartesiaTTS{cfg: cfg.withDefaults()}, nil
}

type ttsRequest struct {
	ModelID      string          `json:"model_id"`
	Transcript   string          `json:"transcript"`
	Voice        ttsVoice        `json:"voice"`
	OutputFormat ttsOutputFormat `json:"output_format"`
	Language     string          `json:"language,omitempty"`
}

type ttsVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type ttsOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

func (p *CartesiaTTS) Synthesize(ctx context.Context, text string, opts audio.SynthesisOptions) (audio.Synthesis, error) {
	voice := opts.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	rate := opts.SampleRate
	if rate == 0 {
		rate = ttsSampleRate
	}
	body, err := json.Marshal(ttsRequest{
		ModelID:      p.cfg.TTSModel,
		Transcript:   text,
		Voice:        ttsVoice{Mode: "id", ID: voice},
		OutputFormat: ttsOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: rate},
		Language:     p.cfg.Language,
	})
	if err != nil {
		return audio.Synthesis{}, fmt.Errorf("speech: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return audio.Synthesis{}, fmt.Errorf("speech: build tts request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return audio.Synthesis{}, fmt.Errorf("speech: tts request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return audio.Synthesis{SampleRate: rate}, nil
	case resp.StatusCode != http.StatusOK:
		return audio.Synthesis{}, readAPIError(resp)
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Synthesis{}, fmt.Errorf("speech: read tts audio: %w", err)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return audio.Synthesis{Audio: pcm, SampleRate: rate}, nil
}
