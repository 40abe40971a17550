// Package message defines the record that moves between flow stages and
// the bounded channels that carry it.
package message

// Kind discriminates the message variants.
type Kind string

const (
	// KindJSON is an anonymous JSON payload.
	KindJSON Kind = "json"
	// KindJSONWithSender is an identity-carrying payload used for
	// correlation between stages and request/response sources.
	KindJSONWithSender Kind = "json_with_sender"
)

// Message is the JSON-carrying record exchanged between stages. UUID is
// generated at the ingress and immutable as the message traverses the
// pipeline; Sender is re-tagged at each hop.
type Message struct {
	Kind   Kind   `json:"kind"`
	UUID   string `json:"uuid,omitempty"`
	Sender string `json:"sender,omitempty"`
	Source string `json:"source,omitempty"`
	Value  any    `json:"value"`
}

// NewJSON builds an anonymous payload message.
func NewJSON(value any) Message {
	return Message{Kind: KindJSON, Value: value}
}

// NewWithSender builds an identity-carrying message.
func NewWithSender(uuid, sender, source string, value any) Message {
	return Message{
		Kind:   KindJSONWithSender,
		UUID:   uuid,
		Sender: sender,
		Source: source,
		Value:  value,
	}
}
