package agentio

import "encoding/json"

// Serialize encodes an Outcome as the single-document wire format. It is
// the inverse of Parse for well-formed outcomes (round-tripping
// parse(serialize(outcome)) == outcome).
func Serialize(o Outcome) []byte {
	b, _ := json.Marshal(o)
	return b
}
