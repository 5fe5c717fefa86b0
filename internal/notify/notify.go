package notify

import "context"

// Message is an outbound email notification.
type Message struct {
	To          string
	Subject     string
	HTML        string
	InlineImage []byte // optional, embedded as cid:issue_image
	ImageType   string // media type of InlineImage, e.g. image/jpeg
}

// Notifier delivers notifications to stakeholders. A failed send is reported
// to the caller but is never fatal: the state transition that triggered it
// has already committed and is the source of truth.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
