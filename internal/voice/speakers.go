package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
)

// DefaultRate is the speech rate in words per minute for command engines.
const DefaultRate = 170

// CommandSpeaker speaks by running an external TTS program with the message
// as its final argument, e.g. `espeak -s 170 "person left"`.
type CommandSpeaker struct {
	Path string
	Args []string
}

// NewEspeak returns a CommandSpeaker for espeak at the given rate.
func NewEspeak(rate int) *CommandSpeaker {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &CommandSpeaker{Path: "espeak", Args: []string{"-s", strconv.Itoa(rate)}}
}

// Speak runs the command and waits for it to exit.
func (c *CommandSpeaker) Speak(ctx context.Context, message string) error {
	args := append(append([]string(nil), c.Args...), message)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.Path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// LogSpeaker only logs the message. Useful headless.
type LogSpeaker struct{}

// Speak logs message.
func (LogSpeaker) Speak(_ context.Context, message string) error {
	logger.Info("Voice", "say: %s", message)
	return nil
}

// GoogleTTSEndpoint is the Cloud Text-to-Speech REST synthesis URL.
const GoogleTTSEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

type ttsRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate,omitempty"`
	} `json:"audioConfig"`
}

type ttsResponse struct {
	AudioContent string `json:"audioContent"`
}

// GoogleTTS synthesizes MP3 audio with Cloud Text-to-Speech and pipes it to
// a player command reading from stdin.
type GoogleTTS struct {
	APIKey       string
	LanguageCode string
	VoiceName    string
	SpeakingRate float64
	Endpoint     string
	Player       []string // e.g. ["mpg123", "-q", "-"]
	Client       *http.Client
}

// NewGoogleTTS returns a client with stock voice and player settings.
func NewGoogleTTS(apiKey string) *GoogleTTS {
	return &GoogleTTS{
		APIKey:       apiKey,
		LanguageCode: "en-US",
		SpeakingRate: 1.0,
		Endpoint:     GoogleTTSEndpoint,
		Player:       []string{"mpg123", "-q", "-"},
		Client:       http.DefaultClient,
	}
}

// Synthesize returns the audio bytes for text.
func (g *GoogleTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if g.APIKey == "" {
		return nil, fmt.Errorf("google tts: api key is required")
	}

	req := ttsRequest{}
	req.Input.Text = text
	req.Voice.LanguageCode = g.LanguageCode
	req.Voice.Name = g.VoiceName
	req.AudioConfig.AudioEncoding = "MP3"
	req.AudioConfig.SpeakingRate = g.SpeakingRate

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", g.Endpoint, g.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read TTS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS API error: %s - %s", resp.Status, string(respBody))
	}

	var out ttsResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal TTS response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}
	return audio, nil
}

// Speak synthesizes message and plays it, blocking until playback ends.
func (g *GoogleTTS) Speak(ctx context.Context, message string) error {
	audio, err := g.Synthesize(ctx, message)
	if err != nil {
		return err
	}
	if len(g.Player) == 0 {
		return fmt.Errorf("google tts: no player configured")
	}

	cmd := exec.CommandContext(ctx, g.Player[0], g.Player[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play audio: %w", err)
	}
	return nil
}
