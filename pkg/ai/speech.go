package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultSpeechBaseURL  = "https://texttospeech.googleapis.com/v1"
	defaultSpeechLanguage = "en-US"
	defaultSpeechGender   = "NEUTRAL"
	speechEncodingMP3     = "MP3"
)

// SpeechSynthesizer converts text to encoded audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SpeechConfig configures GoogleSpeechClient. Empty fields use the en-US neutral voice.
type SpeechConfig struct {
	APIKey       string
	LanguageCode string
	VoiceName    string
	SSMLGender   string
}

// GoogleSpeechClient calls Cloud Text-to-Speech text:synthesize and always asks for MP3.
type GoogleSpeechClient struct {
	cfg        SpeechConfig
	baseURL    string
	httpClient *http.Client
}

// NewGoogleSpeechClient constructs a speech client.
func NewGoogleSpeechClient(cfg SpeechConfig, opts ...Option) (*GoogleSpeechClient, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("text-to-speech api key required")
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = defaultSpeechLanguage
	}
	if strings.TrimSpace(cfg.SSMLGender) == "" {
		cfg.SSMLGender = defaultSpeechGender
	}
	o := buildOptions(defaultSpeechBaseURL, 60*time.Second, opts)
	return &GoogleSpeechClient{cfg: cfg, baseURL: o.baseURL, httpClient: o.httpClient}, nil
}

// Synthesize returns the complete MP3 payload for text. Empty text is sent as is.
func (c *GoogleSpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	reqBody := synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceSelection{
			LanguageCode: c.cfg.LanguageCode,
			Name:         c.cfg.VoiceName,
			SSMLGender:   c.cfg.SSMLGender,
		},
		AudioConfig: audioConfig{AudioEncoding: speechEncodingMP3},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/text:synthesize?key=%s", c.baseURL, url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("text-to-speech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, googleAPIError("text-to-speech", resp)
	}
	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("text-to-speech decode: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("text-to-speech audio: %w", err)
	}
	return audio, nil
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
	SSMLGender   string `json:"ssmlGender,omitempty"`
}

type audioConfig struct {
	AudioEncoding string `json:"audioEncoding"`
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}
