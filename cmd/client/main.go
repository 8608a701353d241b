package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaozhi-go/voiceclient/pkg/client"
	"github.com/xiaozhi-go/voiceclient/pkg/config"
	"github.com/xiaozhi-go/voiceclient/pkg/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	c, err := client.New(cfg, nil, newStdLogger())
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("Error: connect failed: %v", err)
	}
	fmt.Printf("Connected to %s, state=%s\n", cfg.ServerURL, c.State())

	go func() {
		for evt := range c.Events() {
			printEvent(evt)
		}
	}()

	if cfg.AutoConnect && cfg.EnableVoice {
		if err := c.StartVoiceChat(ctx); err != nil {
			fmt.Printf("\r\033[K[ERROR] start_voice_chat: %v\n", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Printf("\nShutting down...\n")
}

// stdLogger backs orchestrator.Logger with the standard library's log
// package, prefixing each line with its level.
type stdLogger struct {
	*log.Logger
}

func newStdLogger() stdLogger {
	return stdLogger{log.New(os.Stderr, "", log.LstdFlags)}
}

func (l stdLogger) Debug(msg string, args ...interface{}) { l.logf("DEBUG", msg, args...) }
func (l stdLogger) Info(msg string, args ...interface{})  { l.logf("INFO", msg, args...) }
func (l stdLogger) Warn(msg string, args ...interface{})  { l.logf("WARN", msg, args...) }
func (l stdLogger) Error(msg string, args ...interface{}) { l.logf("ERROR", msg, args...) }

func (l stdLogger) logf(level, msg string, args ...interface{}) {
	l.Printf("[%s] %s%s", level, msg, formatArgs(args))
}

// formatArgs renders key/value pairs the way the orchestrator's callers
// pass them, e.g. Warn("decode failed", "error", err).
func formatArgs(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	s := ""
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			s += fmt.Sprintf(" %v=%v", args[i], args[i+1])
		} else {
			s += fmt.Sprintf(" %v", args[i])
		}
	}
	return s
}

func printEvent(evt orchestrator.Event) {
	switch evt.Type {
	case orchestrator.EventStt:
		fmt.Printf("\r\033[K[STT] %s\n", evt.Stt.Text)
	case orchestrator.EventLlm:
		fmt.Printf("\r\033[K[LLM] %s (%s)\n", evt.Llm.Text, evt.Llm.Emotion)
	case orchestrator.EventMusic:
		fmt.Printf("\r\033[K[MUSIC] %s: %s\n", evt.Music.Action, evt.Music.SongName)
	case orchestrator.EventSystemStatus:
		fmt.Printf("\r\033[K[STATUS] %s: %s\n", evt.SystemStatus.Component, evt.SystemStatus.Status)
	case orchestrator.EventIot:
		fmt.Printf("\r\033[K[IOT] update received\n")
	case orchestrator.EventMcpResult:
		fmt.Printf("\r\033[K[MCP] result received\n")
	case orchestrator.EventError:
		fmt.Printf("\r\033[K[ERROR] %v\n", evt.Err)
	default:
		fmt.Printf("\r\033[K[?] unrecognized event\n")
	}
}
