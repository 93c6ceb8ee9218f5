package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const responseSchemaURL = "https://pledge.local/schemas/oracle-response.json"

// ResponseSchema is the contract every oracle reply must satisfy once extracted.
const ResponseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["judgments"],
  "properties": {
    "judgments": {
      "type": "array",
      "items": { "$ref": "#/$defs/judgment" }
    }
  },
  "$defs": {
    "judgment": {
      "type": "object",
      "required": ["promise_id", "rationale"],
      "properties": {
        "promise_id": { "type": "string", "minLength": 1 },
        "relevant": { "type": "boolean" },
        "confidence": {
          "oneOf": [
            { "type": "number", "minimum": 0, "maximum": 1 },
            { "enum": ["strong", "medium", "weak"] }
          ]
        },
        "rationale": { "type": "string" }
      },
      "anyOf": [
        { "required": ["relevant"] },
        { "required": ["confidence"] }
      ]
    }
  }
}`

// maxPayloadCandidates bounds how many embedded spans are tried in one reply.
const maxPayloadCandidates = 64

// maxBracketScan bounds the total bytes the bracket scanner visits across one reply, so replies
// full of unbalanced brackets stay linear.
const maxBracketScan = 1 << 20

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error

	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \\t]*\\r?\\n?(.*?)```")
)

func responseSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020

		if err := c.AddResource(responseSchemaURL, strings.NewReader(ResponseSchema)); err != nil {
			schemaErr = fmt.Errorf("failed to load response schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(responseSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile response schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

type response struct {
	Judgments []Judgment `json:"judgments"`
}

// ExtractPayload pulls the structured judgment list out of a free-form oracle reply.
//
// Candidate payloads are tried in order: the whole reply, the body of each fenced code block,
// then each balanced {...} or [...] span in reply order. The first candidate that decodes as
// JSON and satisfies ResponseSchema wins. A bare top-level array is read as the judgment list;
// an empty array only counts when it is the whole reply or a whole fenced block, so a stray
// "[]" inside prose is never taken as "no judgments".
// Returns a KindMalformed *Error when no candidate is valid.
func ExtractPayload(reply string) ([]Judgment, error) {
	schema, err := responseSchema()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidate := range payloadCandidates(reply) {
		judgments, err := decodePayload(schema, candidate)
		if err == nil {
			return judgments, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		return nil, malformed("reply contains no structured payload")
	}
	return nil, malformed("no valid payload in reply: %v", lastErr)
}

func decodePayload(schema *jsonschema.Schema, candidate payload) ([]Judgment, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(candidate.text), &doc); err != nil {
		return nil, err
	}

	raw := []byte(candidate.text)
	if list, ok := doc.([]interface{}); ok {
		if len(list) == 0 && candidate.embedded {
			return nil, fmt.Errorf("embedded empty array is not a judgment list")
		}
		doc = map[string]interface{}{"judgments": list}
		wrapped, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		raw = wrapped
	}

	if err := schema.Validate(doc); err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Judgments == nil {
		resp.Judgments = []Judgment{}
	}
	return resp.Judgments, nil
}

type payload struct {
	text     string
	embedded bool // Found as a bracket span rather than a whole reply or fenced block
}

// payloadCandidates lists the substrings of reply worth decoding, most likely first.
func payloadCandidates(reply string) []payload {
	var out []payload
	seen := make(map[string]struct{})
	add := func(s string, embedded bool) {
		s = strings.TrimSpace(s)
		if s == "" || len(out) >= maxPayloadCandidates {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, payload{text: s, embedded: embedded})
	}

	add(reply, false)
	for _, m := range fencePattern.FindAllStringSubmatch(reply, -1) {
		add(m[1], false)
	}
	budget := maxBracketScan
	for i := 0; i < len(reply) && len(out) < maxPayloadCandidates && budget > 0; i++ {
		if reply[i] != '{' && reply[i] != '[' {
			continue
		}
		end, scanned := matchBracket(reply, i, budget)
		budget -= scanned
		if end > i {
			add(reply[i:end+1], true)
		}
	}

	return out
}

// matchBracket returns the index of the bracket closing the one at start, skipping over JSON
// string literals, or -1 if the span is unbalanced or longer than limit bytes. It also returns
// the number of bytes visited.
func matchBracket(s string, start, limit int) (int, int) {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false

	end := len(s)
	if limit < end-start {
		end = start + limit
	}

	for i := start; i < end; i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return -1, i - start + 1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, i - start + 1
			}
		}
	}

	return -1, end - start
}
