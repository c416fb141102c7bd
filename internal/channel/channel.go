// Package channel defines the messaging-channel collaborator contract. The
// transport itself (WhatsApp Cloud API, a BSP, a simulator) lives behind this
// interface and is wired at startup.
package channel

import "context"

// SendResult is the transport outcome for one dispatch.
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// Messenger delivers messages to a channel-specific destination identity.
type Messenger interface {
	SendText(ctx context.Context, destination, text string) (SendResult, error)
	SendTemplate(ctx context.Context, destination, templateName string, variables []string) (SendResult, error)
}
