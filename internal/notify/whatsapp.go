// Package notify provides the WhatsApp push channel for MomentPipe.
package notify

import (
	"context"
	"fmt"

	"github.com/BTreeMap/MomentPipe/internal/models"
	"github.com/BTreeMap/MomentPipe/internal/whatsapp"
)

// WhatsAppDispatcher delivers moments as WhatsApp messages to the device
// owner's number.
type WhatsAppDispatcher struct {
	sender whatsapp.Sender
	to     string
}

// NewWhatsAppDispatcher creates a WhatsApp dispatcher sending to the given number.
func NewWhatsAppDispatcher(sender whatsapp.Sender, to string) (*WhatsAppDispatcher, error) {
	if sender == nil {
		return nil, fmt.Errorf("whatsapp sender must be provided")
	}
	if to == "" {
		return nil, fmt.Errorf("recipient number must be provided")
	}
	return &WhatsAppDispatcher{sender: sender, to: to}, nil
}

// SendNotification sends the moment as a WhatsApp message.
func (d *WhatsAppDispatcher) SendNotification(ctx context.Context, m models.Moment) error {
	if m.ID == "" {
		return fmt.Errorf("moment id cannot be empty")
	}
	return d.sender.SendMessage(ctx, d.to, FormatMoment(m))
}

// Channel returns the channel name.
func (d *WhatsAppDispatcher) Channel() string {
	return "whatsapp"
}
