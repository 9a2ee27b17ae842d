package summarize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONResponse decodes a provider response into a JSON object.
// Models often wrap the payload in a markdown code fence, with or
// without a language tag, so fences are stripped before decoding. A
// response that holds no JSON object is ErrMalformedResponse.
func ParseJSONResponse(text string) (map[string]any, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return obj, nil
}

// stripCodeFence unwraps a ```-fenced block, dropping the opening line
// (which may carry a language tag) and the closing fence.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := text[len("```"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}
