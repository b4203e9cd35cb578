package call

// Input is the gather constraint block attached to a prompt that expects a
// keypress. TimeoutSeconds is clamped to the carrier's accepted 3..30 range
// at composition time.
type Input struct {
	MaxDigits      int    `json:"max_digits"`
	FinishOnKey    string `json:"finish_on_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Prompt is one composed conversation turn, dialect-agnostic. Encoders turn
// it into carrier wire payloads; nothing upstream of them may branch on the
// deployment's dialect.
type Prompt struct {
	// Text is what the carrier speaks via TTS. Always populated, even when
	// AudioURL is set, so encoders can fall back.
	Text string `json:"text"`
	// AudioURL, when set, points at pre-hosted audio the carrier plays
	// instead of speaking Text.
	AudioURL string `json:"audio_url,omitempty"`
	// Voice is the TTS voice hint, e.g. "hi-IN".
	Voice string `json:"voice,omitempty"`
	// Input, when nil, marks the prompt terminal: play and hang up.
	Input *Input `json:"input,omitempty"`
	// RepeatText is the short re-prompt the carrier plays when a gather
	// lapses on its side before re-fetching us.
	RepeatText string `json:"repeat_text,omitempty"`
}

// Terminal reports whether the prompt ends the call.
func (p Prompt) Terminal() bool { return p.Input == nil }
