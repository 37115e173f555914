package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EnvelopeKey is the fixed top-level JSON key that marks an embedded
// submission in commit messages and pull-request bodies.
const EnvelopeKey = "gaia_submission"

var (
	// ErrNoEnvelope means the text carries no submission at all. This is
	// the expected case for ordinary commits, not an error condition.
	ErrNoEnvelope = errors.New("no submission envelope found")

	// ErrEnvelopeMalformed means the envelope key is present but the JSON
	// is invalid or a required field is missing. Extraction is
	// all-or-nothing: a malformed envelope is never partially applied.
	ErrEnvelopeMalformed = errors.New("submission envelope malformed")
)

// Extract locates a JSON object carrying EnvelopeKey inside free text and
// returns the typed envelope. Surrounding prose and markdown code fences
// are tolerated; when several JSON-looking candidates appear, the first
// well-formed object holding the key wins.
func Extract(text string) (*Envelope, error) {
	if !strings.Contains(text, EnvelopeKey) {
		return nil, ErrNoEnvelope
	}

	// Try every '{' as a candidate object start. json.Decoder stops at the
	// end of the first value, so trailing prose or fence markers after the
	// object do not matter.
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		raw, ok := obj[EnvelopeKey]
		if !ok {
			continue
		}
		return parseEnvelope(raw)
	}

	return nil, fmt.Errorf("%w: %q key present but no well-formed JSON object found", ErrEnvelopeMalformed, EnvelopeKey)
}

// requiredFields must all be present in the envelope; absence rejects the
// whole payload rather than silently defaulting.
var requiredFields = []string{
	"agent_name", "level", "split", "accuracy", "correct_tasks", "total_tasks",
}

func parseEnvelope(raw json.RawMessage) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: envelope is not a JSON object", ErrEnvelopeMalformed)
	}

	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("%w: required field %q is missing", ErrEnvelopeMalformed, name)
		}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeMalformed, err)
	}
	return &env, nil
}
