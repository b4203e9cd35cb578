package carrier

import (
	"fmt"
	"strings"

	"github.com/mangwale/voice-platform/internal/call"
)

// Dialect names accepted in configuration.
const (
	DialectXML  = "xml"
	DialectJSON = "json"
)

// fillerText stands in when a prompt somehow carries neither text nor audio;
// the reply must still be speakable.
const fillerText = "Thank you."

// ResponseEncoder renders composed prompts in one carrier dialect. Encoders
// are total over well-formed prompts: any prompt the composer emits must
// encode.
type ResponseEncoder interface {
	Encode(p call.Prompt) ([]byte, error)
	ContentType() string
	Dialect() string
}

// NewEncoder picks the deployment's encoder. The XML dialect needs the
// absolute callback URL for gather action attributes.
func NewEncoder(dialect, actionURL string) (ResponseEncoder, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "", DialectXML:
		return NewExoMLEncoder(actionURL), nil
	case DialectJSON:
		return NewGatherEncoder(), nil
	}
	return nil, fmt.Errorf("carrier: unknown dialect %q", dialect)
}
