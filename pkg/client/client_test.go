package client

import (
	"testing"

	"github.com/xiaozhi-go/voiceclient/pkg/orchestrator"
)

func TestBuildTransportSelectsWebsocketByDefault(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.ServerURL = "wss://example.test/ws"

	tc, err := buildTransport(cfg)
	if err != nil {
		t.Fatalf("build transport: %v", err)
	}
	if tc == nil {
		t.Fatal("expected a non-nil transport client")
	}
}

func TestBuildTransportRequiresMqttBroker(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.UseWebsocket = false

	if _, err := buildTransport(cfg); err == nil {
		t.Fatal("expected an error when mqtt_broker is unset")
	}
}

func TestBuildTransportSelectsMqttWhenConfigured(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.UseWebsocket = false
	cfg.MqttBroker = "tcp://localhost:1883"
	cfg.MqttClientID = "test-client"
	cfg.MqttTopic = "xiaozhi/device1"

	tc, err := buildTransport(cfg)
	if err != nil {
		t.Fatalf("build transport: %v", err)
	}
	if tc == nil {
		t.Fatal("expected a non-nil transport client")
	}
}
