// Package notify defines the messaging gateway contract used to reach task
// owners, plus the Telegram implementation.
package notify

import "context"

// Notifier delivers a text message to a recipient and returns the gateway
// message id on success.
type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string) (string, error)
}
