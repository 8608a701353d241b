package transport

import (
	"context"
	"testing"
)

func TestMQTTClientSendBeforeDialFails(t *testing.T) {
	c := NewMQTTClient("tcp://unused:1883", "client-1", "xiaozhi/control", "xiaozhi/audio")
	if err := c.SendText(context.Background(), []byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := c.SendBinary(context.Background(), []byte{1}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMQTTClientCloseFramesIdempotent(t *testing.T) {
	c := NewMQTTClient("tcp://unused:1883", "client-1", "xiaozhi/control", "xiaozhi/audio")
	c.closeFrames()
	c.closeFrames() // must not panic on double-close
}

func TestMQTTClientCloseWithoutDial(t *testing.T) {
	c := NewMQTTClient("tcp://unused:1883", "client-1", "xiaozhi/control", "xiaozhi/audio")
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("expected clean close without a connection, got %v", err)
	}
}
