// Package config loads orchestrator.Config from the environment, the way
// cmd/agent's main.go in the reference repo reads its provider keys:
// godotenv.Load() followed by plain os.Getenv calls, no reflection-based
// struct tags.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/xiaozhi-go/voiceclient/pkg/orchestrator"
)

// Load reads .env (if present, silently ignored if absent) then populates
// an orchestrator.Config from the recognized environment variables of
// spec §6. Any unrecognized XIAOZHI_* variable is rejected.
func Load() (orchestrator.Config, error) {
	_ = godotenv.Load()

	cfg := orchestrator.DefaultConfig()

	known := map[string]bool{
		"SERVER_URL": true, "USE_WEBSOCKET": true, "MQTT_BROKER": true, "MQTT_PORT": true,
		"MQTT_CLIENT_ID": true, "MQTT_TOPIC": true, "ENABLE_VOICE": true, "AUDIO_INPUT_SAMPLE_RATE": true,
		"AUDIO_OUTPUT_SAMPLE_RATE": true, "AUDIO_CHANNELS": true, "AUDIO_FORMAT": true, "AUTO_CONNECT": true,
		"KEYWORD_MODELS_PATH": true, "KEYWORD_CURRENT_MODEL": true, "KEYWORD_AVAILABLE_MODELS": true,
		"AUTH_TOKEN": true, "DEVICE_ID": true, "CLIENT_ID": true,
	}
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "XIAOZHI_") && !known[strings.TrimPrefix(name, "XIAOZHI_")] {
			return cfg, fmt.Errorf("config: unrecognized option %s", name)
		}
	}

	cfg.ServerURL = os.Getenv("XIAOZHI_SERVER_URL")
	if cfg.ServerURL == "" {
		return cfg, fmt.Errorf("config: XIAOZHI_SERVER_URL is required")
	}

	if v, ok := os.LookupEnv("XIAOZHI_USE_WEBSOCKET"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: XIAOZHI_USE_WEBSOCKET: %w", err)
		}
		cfg.UseWebsocket = b
	}

	cfg.MqttBroker = os.Getenv("XIAOZHI_MQTT_BROKER")
	cfg.MqttClientID = os.Getenv("XIAOZHI_MQTT_CLIENT_ID")
	cfg.MqttTopic = os.Getenv("XIAOZHI_MQTT_TOPIC")
	if v := os.Getenv("XIAOZHI_MQTT_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: XIAOZHI_MQTT_PORT: %w", err)
		}
		cfg.MqttPort = p
	}

	if v, ok := os.LookupEnv("XIAOZHI_ENABLE_VOICE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: XIAOZHI_ENABLE_VOICE: %w", err)
		}
		cfg.EnableVoice = b
	}

	if v := os.Getenv("XIAOZHI_AUDIO_INPUT_SAMPLE_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: XIAOZHI_AUDIO_INPUT_SAMPLE_RATE: %w", err)
		}
		cfg.AudioInputSampleRate = n
	}
	if v := os.Getenv("XIAOZHI_AUDIO_OUTPUT_SAMPLE_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: XIAOZHI_AUDIO_OUTPUT_SAMPLE_RATE: %w", err)
		}
		cfg.AudioOutputSampleRate = n
	}
	if v := os.Getenv("XIAOZHI_AUDIO_CHANNELS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: XIAOZHI_AUDIO_CHANNELS: %w", err)
		}
		cfg.AudioChannels = n
	}
	if v := os.Getenv("XIAOZHI_AUDIO_FORMAT"); v != "" {
		cfg.AudioFormat = v
	}

	if v, ok := os.LookupEnv("XIAOZHI_AUTO_CONNECT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: XIAOZHI_AUTO_CONNECT: %w", err)
		}
		cfg.AutoConnect = b
	}

	cfg.KeywordModelsPath = os.Getenv("XIAOZHI_KEYWORD_MODELS_PATH")
	cfg.KeywordCurrentModel = os.Getenv("XIAOZHI_KEYWORD_CURRENT_MODEL")
	if v := os.Getenv("XIAOZHI_KEYWORD_AVAILABLE_MODELS"); v != "" {
		cfg.KeywordAvailableModels = strings.Split(v, ",")
	}

	cfg.AuthToken = os.Getenv("XIAOZHI_AUTH_TOKEN")
	cfg.DeviceID = ResolveDeviceID(os.Getenv("XIAOZHI_DEVICE_ID"))
	cfg.ClientID = os.Getenv("XIAOZHI_CLIENT_ID")
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	return cfg, nil
}

// ResolveDeviceID returns preferred if non-empty, else the first network
// interface's MAC address, else "" (caller decides whether that's fatal).
// Mirrors the reference client's Device-Id fallback.
func ResolveDeviceID(preferred string) string {
	if preferred != "" {
		return preferred
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range interfaces {
		if len(iface.HardwareAddr) > 0 {
			return iface.HardwareAddr.String()
		}
	}
	return ""
}
