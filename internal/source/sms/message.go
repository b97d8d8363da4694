package sms

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one text message as published by the phone companion.
// Code carries an extracted one-time code when the companion found one,
// empty otherwise. The receiver requires the field, so a missing or null
// code re-encodes as the empty string.
type Message struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Code    string `json:"code"`
}

// ParseMessage decodes and validates a message from the broker.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode sms: %w", err)
	}
	if strings.TrimSpace(m.Sender) == "" {
		return Message{}, fmt.Errorf("decode sms: sender is empty")
	}
	if m.Content == "" {
		return Message{}, fmt.Errorf("decode sms: content is empty")
	}
	return m, nil
}

// Encode marshals the message in the wire shape the receiver expects.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ItemID returns a stable identity for deduplication. The same message
// delivered twice (broker redelivery, reconnect replay) hashes the same.
func (m Message) ItemID() string {
	h := sha256.New()
	h.Write([]byte(m.Sender))
	h.Write([]byte{0})
	h.Write([]byte(m.Content))
	return "sms:" + hex.EncodeToString(h.Sum(nil)[:16])
}
