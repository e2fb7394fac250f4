package providers

import (
	"fmt"

	"mindshare-hq/callisto/pkg/catalog"
)

// dialect shapes a uniform Request into one provider family's wire
// format and extracts the normalized result back out.
type dialect interface {
	// endpoint returns the URL to POST to, including any key-in-query
	// or model-in-path handling.
	endpoint(req *Request) string

	// headers returns the auth and version headers for the call.
	headers(req *Request) map[string]string

	// body marshals the request payload.
	body(req *Request) ([]byte, error)

	// parse extracts the normalized result from a 2xx response body.
	parse(req *Request, raw []byte) (*Result, error)
}

// dialectFor resolves the adapter for a catalog dialect. The switch is
// exhaustive over the closed enum; an unknown value is a programming
// error surfaced at call time.
func dialectFor(d catalog.Dialect) (dialect, error) {
	switch d {
	case catalog.DialectOpenAI:
		return openAIDialect{}, nil
	case catalog.DialectAnthropic:
		return anthropicDialect{}, nil
	case catalog.DialectGemini:
		return geminiDialect{}, nil
	case catalog.DialectAI21:
		return ai21Dialect{}, nil
	case catalog.DialectCohere:
		return cohereDialect{}, nil
	default:
		return nil, fmt.Errorf("no adapter for dialect %q", d)
	}
}
