package carrier

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/mangwale/voice-platform/internal/call"
)

// ExoMLEncoder renders prompts as the carrier's XML applet dialect. A gather
// prompt nests the speech inside <Gather> whose action points back at our
// callback; a terminal prompt speaks and hangs up.
type ExoMLEncoder struct {
	actionURL string
}

// NewExoMLEncoder builds the XML encoder. actionURL is the absolute callback
// URL the carrier re-fetches with gathered digits.
func NewExoMLEncoder(actionURL string) *ExoMLEncoder {
	return &ExoMLEncoder{actionURL: actionURL}
}

type exoSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type exoPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type exoGather struct {
	XMLName     xml.Name `xml:"Gather"`
	Action      string   `xml:"action,attr"`
	NumDigits   int      `xml:"numDigits,attr"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	Timeout     int      `xml:"timeout,attr"`
	Play        *exoPlay
	Say         *exoSay
}

type exoHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// exoResponse is the document root. Field order is emission order: gather
// first, then loose speech, then hangup.
type exoResponse struct {
	XMLName xml.Name `xml:"Response"`
	Gather  *exoGather
	Play    *exoPlay
	Say     []exoSay
	Hangup  *exoHangup
}

// Encode renders one prompt. The produced document always carries the
// explicit </Response> closing tag; the carrier treats a truncated root as
// an instruction to hang up immediately.
func (e *ExoMLEncoder) Encode(p call.Prompt) ([]byte, error) {
	text := p.Text
	if strings.TrimSpace(text) == "" && p.AudioURL == "" {
		text = fillerText
	}

	var doc exoResponse
	if p.Input != nil {
		g := &exoGather{
			Action:      e.actionURL,
			NumDigits:   p.Input.MaxDigits,
			FinishOnKey: p.Input.FinishOnKey,
			Timeout:     p.Input.TimeoutSeconds,
		}
		if p.AudioURL != "" {
			g.Play = &exoPlay{URL: p.AudioURL}
		} else {
			g.Say = &exoSay{Voice: p.Voice, Text: text}
		}
		doc.Gather = g
		if p.RepeatText != "" {
			doc.Say = []exoSay{{Voice: p.Voice, Text: p.RepeatText}}
		}
	} else {
		if p.AudioURL != "" {
			doc.Play = &exoPlay{URL: p.AudioURL}
		} else {
			doc.Say = []exoSay{{Voice: p.Voice, Text: text}}
		}
		doc.Hangup = &exoHangup{}
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("carrier: encode exoml: %w", err)
	}
	out := append([]byte(xml.Header), body...)
	if !bytes.HasSuffix(bytes.TrimSpace(out), []byte("</Response>")) {
		return nil, fmt.Errorf("carrier: exoml document missing closing tag")
	}
	return out, nil
}

func (e *ExoMLEncoder) ContentType() string { return "application/xml" }

func (e *ExoMLEncoder) Dialect() string { return DialectXML }
