package domain

import (
	"encoding/json"
	"fmt"
)

// ContentVersion is the current version of the stored content record.
const ContentVersion = 1

// Content is the stored, self-describing representation of an originally
// sent message. It holds plain data only and is enough to rebuild a sendable
// OutboundMessage.
type Content struct {
	Version int             `json:"version"`
	Message OutboundMessage `json:"message"`
}

func NewContent(msg OutboundMessage) *Content {
	return &Content{Version: ContentVersion, Message: msg.Clone()}
}

func DecodeContent(raw []byte) (*Content, error) {
	var c Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: invalid content record: %v", ErrValidation, err)
	}
	if c.Version != ContentVersion {
		return nil, fmt.Errorf("%w: unsupported content version %d", ErrValidation, c.Version)
	}
	return &c, nil
}

func (c *Content) Encode() ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Reconstruct returns a fresh copy of the original message.
func (c *Content) Reconstruct() (OutboundMessage, error) {
	if c == nil {
		return OutboundMessage{}, fmt.Errorf("%w: message has no stored content", ErrValidation)
	}
	if c.Version != ContentVersion {
		return OutboundMessage{}, fmt.Errorf("%w: unsupported content version %d", ErrValidation, c.Version)
	}
	return c.Message.Clone(), nil
}
