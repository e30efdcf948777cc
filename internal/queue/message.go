package queue

import "encoding/json"

// CurrentVersion is the payload version written by Send.
const CurrentVersion = 1

// PhraseDelta is one grouped (region, phrase, category) increment.
type PhraseDelta struct {
	Region   string `json:"region"`
	Phrase   string `json:"phrase"`
	Category string `json:"category"`
	Weight   int64  `json:"weight"`
}

// Message is a batch of grouped phrase deltas drained from one buffer flush.
type Message struct {
	RequestID  string        `json:"requestId,omitempty"`
	EnqueuedAt string        `json:"enqueuedAt"`
	Version    int           `json:"version"`
	Deltas     []PhraseDelta `json:"deltas"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
