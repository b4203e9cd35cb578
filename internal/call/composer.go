package call

import (
	"strconv"
	"strings"
)

// Gather timeouts per menu, in seconds. The carrier accepts 3..30.
const (
	greetingTimeoutSeconds  = 10
	prepTimeoutSeconds      = 15
	rejectionTimeoutSeconds = 10
	holdOnTimeoutSeconds    = 5

	minGatherTimeoutSeconds = 3
	maxGatherTimeoutSeconds = 30

	defaultFinishKey = "#"
)

// ComposerConfig configures prompt composition.
type ComposerConfig struct {
	// Brand is the caller identity spoken in greetings. Defaults to "Mangwale".
	Brand string
	// DefaultLanguage is used when a session carries an unknown locale.
	DefaultLanguage Language
	// AudioBaseURL, when set, points at pre-hosted recordings for the static
	// prompts; dynamic prompts always stay TTS text.
	AudioBaseURL string
}

// Composer turns a session plus a machine step into the next spoken prompt.
// It is pure: no I/O, no mutation of the state it reads.
type Composer struct {
	brand        string
	defaultLang  Language
	audioBaseURL string
}

// NewComposer builds a composer, applying defaults for unset config fields.
func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.Brand == "" {
		cfg.Brand = "Mangwale"
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = LanguageHindi
	}
	return &Composer{
		brand:        cfg.Brand,
		defaultLang:  cfg.DefaultLanguage,
		audioBaseURL: strings.TrimRight(cfg.AudioBaseURL, "/"),
	}
}

// Compose renders the prompt for the state a step landed on. Retry attempts
// get an apologetic prefix before the menu is re-read.
func (c *Composer) Compose(st *State, res StepResult) Prompt {
	lang := c.language(st.Language)
	table := localeFor(lang)

	switch res.State {
	case StateGreeting:
		return c.gather(table, res, c.greetingText(st, table), greetingTimeoutSeconds, res.State)
	case StatePrepTimeInquiry:
		return c.gather(table, res, table.prepMenu, prepTimeoutSeconds, res.State)
	case StateRejectionReason:
		return c.gather(table, res, table.rejectionMenu, rejectionTimeoutSeconds, res.State)
	case StateGoodbyeAccepted:
		minutes, ok := st.CollectedInt(SlotPrepMinutes)
		if !ok || minutes <= 0 {
			minutes = 30
		}
		text := expand(table.goodbyeAccepted, map[string]string{"minutes": strconv.Itoa(minutes)})
		return c.terminal(table, text, res.State, false)
	case StateGoodbyeRejected:
		return c.terminal(table, table.goodbyeRejected, res.State, true)
	case StateGoodbyeNoInput:
		return c.terminal(table, table.goodbyeNoInput, res.State, true)
	case StateRiderAccepted:
		return c.terminal(table, table.riderAccepted, res.State, true)
	case StateRiderDeclined:
		return c.terminal(table, table.riderDeclined, res.State, true)
	case StateApology:
		return c.terminal(table, table.apology, res.State, false)
	}
	return c.terminal(table, table.apology, StateApology, false)
}

// Apology is the terminal fallback for turns that cannot be handled at all.
func (c *Composer) Apology(lang Language) Prompt {
	table := localeFor(c.language(lang))
	return c.terminal(table, table.apology, StateApology, false)
}

// TryAgainLater closes a call whose session cannot be recovered.
func (c *Composer) TryAgainLater(lang Language) Prompt {
	table := localeFor(c.language(lang))
	return c.terminal(table, table.tryLater, StateApology, false)
}

// HoldOn answers a turn that lost the race for the session lock: a short
// gather that keeps the call up while the carrier re-fetches us.
func (c *Composer) HoldOn(lang Language) Prompt {
	table := localeFor(c.language(lang))
	return Prompt{
		Text:  table.holdOn,
		Voice: table.voice,
		Input: &Input{
			MaxDigits:      1,
			FinishOnKey:    defaultFinishKey,
			TimeoutSeconds: holdOnTimeoutSeconds,
		},
		RepeatText: table.retryShort,
	}
}

func (c *Composer) language(lang Language) Language {
	if _, ok := locales[lang]; ok {
		return lang
	}
	return c.defaultLang
}

// greetingText assembles the opening pitch: identity, order number, then
// amount and items when the payload carries them, then the accept menu.
func (c *Composer) greetingText(st *State, table localeTable) string {
	order := digitSpaced(st.OrderID)
	var parts []string
	switch st.Kind {
	case KindRiderAssignment:
		rider := strings.TrimSpace(st.CalleeName)
		if rider == "" {
			rider = table.riderWord
		}
		pickup := strings.TrimSpace(st.Payload.PickupName)
		if pickup == "" {
			pickup = c.brand
		}
		parts = append(parts, expand(table.greetingRider, map[string]string{
			"brand":  c.brand,
			"rider":  rider,
			"pickup": pickup,
			"order":  order,
		}))
		parts = append(parts, table.riderMenu)
	default:
		vendor := strings.TrimSpace(st.CalleeName)
		if vendor == "" {
			vendor = table.partnerWord
		}
		parts = append(parts, expand(table.greetingVendor, map[string]string{
			"brand":  c.brand,
			"vendor": vendor,
			"order":  order,
		}))
		if st.Payload.Amount > 0 {
			parts = append(parts, expand(table.orderAmount, map[string]string{
				"amount": renderAmount(st.Payload.Amount),
			}))
		}
		if items := renderItems(st.Payload.Items, table); items != "" {
			parts = append(parts, expand(table.orderItems, map[string]string{"items": items}))
		}
		parts = append(parts, table.vendorMenu)
	}
	return strings.Join(parts, " ")
}

// gather wraps menu text in input constraints, prefixing the retry apology on
// repeat deliveries.
func (c *Composer) gather(table localeTable, res StepResult, text string, timeoutSeconds int, state LogicalState) Prompt {
	if res.Attempt > 1 {
		text = table.retryPrefix + " " + text
	}
	p := Prompt{
		Text:  text,
		Voice: table.voice,
		Input: &Input{
			MaxDigits:      1,
			FinishOnKey:    defaultFinishKey,
			TimeoutSeconds: clampTimeout(timeoutSeconds),
		},
		RepeatText: table.retryShort,
	}
	if res.Attempt == 1 {
		p.AudioURL = c.audioURL(table, state)
	}
	return p
}

func (c *Composer) terminal(table localeTable, text string, state LogicalState, static bool) Prompt {
	p := Prompt{Text: text, Voice: table.voice}
	if static {
		p.AudioURL = c.audioURL(table, state)
	}
	return p
}

// audioURL points at a pre-hosted recording for prompts whose wording never
// changes. Greetings and the accepted-goodbye embed order data, so they have
// no recordings.
func (c *Composer) audioURL(table localeTable, state LogicalState) string {
	if c.audioBaseURL == "" {
		return ""
	}
	switch state {
	case StatePrepTimeInquiry, StateRejectionReason,
		StateGoodbyeRejected, StateGoodbyeNoInput,
		StateRiderAccepted, StateRiderDeclined:
		return c.audioBaseURL + "/" + string(localeKey(table)) + "/" + string(state) + ".mp3"
	}
	return ""
}

// localeKey recovers the language code for URL building from a table's voice
// hint ("hi-IN" → "hi").
func localeKey(table localeTable) Language {
	code, _, found := strings.Cut(table.voice, "-")
	if !found {
		return LanguageHindi
	}
	return Language(code)
}

func clampTimeout(seconds int) int {
	if seconds < minGatherTimeoutSeconds {
		return minGatherTimeoutSeconds
	}
	if seconds > maxGatherTimeoutSeconds {
		return maxGatherTimeoutSeconds
	}
	return seconds
}
