package carrier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mangwale/voice-platform/internal/call"
)

// GatherEncoder renders prompts as the carrier's programmable-gather JSON
// dialect: one object per turn, terminal signaled by max_input_digits 0 with
// input_timeout 1.
type GatherEncoder struct{}

// NewGatherEncoder builds the JSON encoder.
func NewGatherEncoder() *GatherEncoder {
	return &GatherEncoder{}
}

type gatherPrompt struct {
	Text     string `json:"text,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// gatherPayload is the wire object. max_input_digits and input_timeout are
// never omitted: the terminal marker is their exact 0/1 pair.
type gatherPayload struct {
	GatherPrompt       gatherPrompt  `json:"gather_prompt"`
	Voice              string        `json:"voice,omitempty"`
	MaxInputDigits     int           `json:"max_input_digits"`
	FinishOnKey        string        `json:"finish_on_key,omitempty"`
	InputTimeout       int           `json:"input_timeout"`
	RepeatMenu         int           `json:"repeat_menu,omitempty"`
	RepeatGatherPrompt *gatherPrompt `json:"repeat_gather_prompt,omitempty"`
}

func (e *GatherEncoder) Encode(p call.Prompt) ([]byte, error) {
	text := p.Text
	if strings.TrimSpace(text) == "" && p.AudioURL == "" {
		text = fillerText
	}

	payload := gatherPayload{
		GatherPrompt: gatherPrompt{Text: text, AudioURL: p.AudioURL},
		Voice:        p.Voice,
	}
	if p.AudioURL != "" {
		payload.GatherPrompt.Text = ""
	}
	if p.Input != nil {
		payload.MaxInputDigits = p.Input.MaxDigits
		payload.FinishOnKey = p.Input.FinishOnKey
		payload.InputTimeout = p.Input.TimeoutSeconds
		if p.RepeatText != "" {
			payload.RepeatMenu = 1
			payload.RepeatGatherPrompt = &gatherPrompt{Text: p.RepeatText}
		}
	} else {
		payload.MaxInputDigits = 0
		payload.InputTimeout = 1
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("carrier: encode gather payload: %w", err)
	}
	return out, nil
}

func (e *GatherEncoder) ContentType() string { return "application/json" }

func (e *GatherEncoder) Dialect() string { return DialectJSON }
