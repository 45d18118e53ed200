package agentio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// rawPreviewLimit bounds how much of the offending blob a ParseError keeps,
// so logs never carry an entire (possibly huge) agent transcript.
const rawPreviewLimit = 512

// ParseError is returned when an agent's stdout cannot be decoded into an
// Outcome.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("agentio: parse failed: %s", e.Reason)
}

func newParseError(reason string, raw []byte) *ParseError {
	preview := string(raw)
	if len(preview) > rawPreviewLimit {
		preview = preview[:rawPreviewLimit] + "...(truncated)"
	}
	return &ParseError{Reason: reason, Raw: preview}
}

var knownStatuses = map[Status]bool{
	StatusSubTaskComplete:    true,
	StatusSubTaskPartial:     true,
	StatusAllComplete:        true,
	StatusAllBlocked:         true,
	StatusNoSubTasks:         true,
	StatusVerificationFailed: true,
	StatusNeedsWork:          true,
	StatusPass:               true,
	StatusFail:               true,
}

// Parse decodes an agent's raw stdout into an Outcome. Two encodings are
// accepted: a single terminal JSON document, or a newline-delimited stream
// of JSON envelopes where the last line carrying a recognized status field
// is the result (the streaming-CLI convention).
func Parse(blob []byte) (Outcome, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return Outcome{}, newParseError("empty output", blob)
	}

	if trimmed[0] == '{' && looksLikeSingleDocument(trimmed) {
		return parseDocument(trimmed)
	}

	return parseStream(trimmed)
}

// looksLikeSingleDocument is a cheap heuristic: if the trimmed blob decodes
// as exactly one JSON value with nothing trailing, treat it as the
// single-document encoding rather than a one-line stream.
func looksLikeSingleDocument(trimmed []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var v any
	if err := dec.Decode(&v); err != nil {
		return false
	}
	return dec.More() == false
}

func parseDocument(blob []byte) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(blob, &o); err != nil {
		return Outcome{}, newParseError("not a JSON object", blob)
	}
	return validate(o, blob)
}

// parseStream scans a newline-delimited blob and keeps the last line whose
// JSON envelope carries a recognized status.
func parseStream(blob []byte) (Outcome, error) {
	var last *Outcome
	scanner := bufio.NewScanner(bytes.NewReader(blob))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var o Outcome
		if err := json.Unmarshal(line, &o); err != nil {
			continue
		}
		if knownStatuses[o.Status] {
			oc := o
			last = &oc
		}
	}
	if last == nil {
		return Outcome{}, newParseError("no recognized status in stream", blob)
	}
	return validate(*last, blob)
}

func validate(o Outcome, raw []byte) (Outcome, error) {
	if !knownStatuses[o.Status] {
		return Outcome{}, newParseError(fmt.Sprintf("unrecognized status %q", o.Status), raw)
	}
	if strings.TrimSpace(o.Timestamp) == "" {
		return Outcome{}, newParseError("missing timestamp", raw)
	}
	if field := missingRequiredField(o); field != "" {
		return Outcome{}, newParseError(fmt.Sprintf("missing required field %s for status %s", field, o.Status), raw)
	}
	return o, nil
}
