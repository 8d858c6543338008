package whatsapp

import (
	"context"
	"testing"
)

func TestSendMessageValidation(t *testing.T) {
	c := &Client{}
	if err := c.SendMessage(context.Background(), "15550001111", "hello"); err == nil {
		t.Error("expected error from uninitialized client")
	}
}

func TestMockClientImplementsSender(t *testing.T) {
	var s Sender = NewMockClient()
	if err := s.SendMessage(context.Background(), "15550001111", "hello"); err != nil {
		t.Errorf("mock send should always succeed: %v", err)
	}
}
