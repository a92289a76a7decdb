package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Header is a custom header carried with an outbound message.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment holds base64 encoded file content.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	ContentID   string `json:"contentId,omitempty"`
}

// OutboundMessage is a rendered message ready to be handed to the transport.
type OutboundMessage struct {
	MessageID   string       `json:"messageId"`
	Date        time.Time    `json:"date"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Bcc         []string     `json:"bcc,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	Subject     string       `json:"subject"`
	Tag         string       `json:"tag,omitempty"`
	Headers     []Header     `json:"headers,omitempty"`
	TextBody    string       `json:"textBody,omitempty"`
	HTMLBody    string       `json:"htmlBody,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendResult is what the provider returns for an accepted submission.
type SendResult struct {
	SubmittedAt       time.Time
	ProviderMessageID string
	ErrorCode         int
	Message           string
}

func (m *OutboundMessage) Validate() error {
	if strings.TrimSpace(m.From) == "" {
		return fmt.Errorf("%w: from is required", ErrValidation)
	}
	if len(m.Recipients()) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	if strings.TrimSpace(m.TextBody) == "" && strings.TrimSpace(m.HTMLBody) == "" {
		return fmt.Errorf("%w: textBody or htmlBody is required", ErrValidation)
	}
	for _, h := range m.Headers {
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("%w: header name is required", ErrValidation)
		}
	}
	return nil
}

// Recipients returns To, Cc and Bcc addresses, skipping blanks.
func (m *OutboundMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, addr := range list {
			if strings.TrimSpace(addr) != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// Header returns the value of the first custom header matching name
// (case-insensitive), or an empty string.
func (m *OutboundMessage) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

// SetHeader replaces every header matching name with a single value.
func (m *OutboundMessage) SetHeader(name, value string) {
	kept := make([]Header, 0, len(m.Headers)+1)
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, name) {
			kept = append(kept, h)
		}
	}
	m.Headers = append(kept, Header{Name: name, Value: value})
}

// Clone returns a deep copy so callers can rewrite recipients safely.
func (m OutboundMessage) Clone() OutboundMessage {
	c := m
	c.To = append([]string(nil), m.To...)
	c.Cc = append([]string(nil), m.Cc...)
	c.Bcc = append([]string(nil), m.Bcc...)
	c.Headers = append([]Header(nil), m.Headers...)
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	return c
}

// NormalizeAddress reduces "Name <a@x.com>" or " A@X.com " to "a@x.com".
func NormalizeAddress(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if parsed, err := mail.ParseAddress(trimmed); err == nil {
		trimmed = parsed.Address
	}
	return strings.ToLower(trimmed)
}

// JoinAddresses renders an address list the way it is stored for search.
func JoinAddresses(addrs []string) string {
	return strings.Join(addrs, ", ")
}
