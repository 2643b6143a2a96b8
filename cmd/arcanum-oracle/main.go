// Package main is a terminal client for oracle voice sessions.
//
// It captures the microphone, streams it to the live oracle service, and
// plays the synthesized replies through the speakers, printing the
// conversation transcript as turns complete.
//
// Usage:
//
//	go run ./cmd/arcanum-oracle
//
// Environment variables:
//
//	GEMINI_API_KEY       - Required
//	ORACLE_VOICE         - Optional voice name (default Zephyr)
//	ORACLE_SYSTEM_PROMPT - Optional persona instruction
//
// Controls:
//
//	Enter - Start or stop a session
//	q     - Quit
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arcanumlabs/arcanum/internal/audio"
	"github.com/arcanumlabs/arcanum/internal/gemini"
	"github.com/arcanumlabs/arcanum/internal/oracle"
)

func main() {
	_ = godotenv.Load()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GEMINI_API_KEY required")
		os.Exit(1)
	}
	voice := os.Getenv("ORACLE_VOICE")
	if voice == "" {
		voice = "Zephyr"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nThe mists close.")
		cancel()
	}()

	ctrl := oracle.NewController(oracle.Config{
		OpenChannel: func(ctx context.Context, session oracle.ChannelConfig) (oracle.Channel, error) {
			return gemini.OpenLiveChannel(ctx, gemini.LiveConfig{
				APIKey: apiKey,
				Model:  os.Getenv("ORACLE_LIVE_MODEL"),
				Logger: logger,
			}, session)
		},
		OpenCapture: func() (oracle.CapturePipeline, error) {
			return audio.OpenCapture()
		},
		OpenPlayback: func() (oracle.Playback, error) {
			speaker, err := audio.OpenSpeaker(audio.PlaybackSampleRate)
			if err != nil {
				return nil, err
			}
			return oracle.NewDevicePlayback(audio.NewPlayer(speaker, audio.NewDeviceClock())), nil
		},
		Voice:        voice,
		SystemPrompt: os.Getenv("ORACLE_SYSTEM_PROMPT"),
		Logger:       logger,
		OnStateChange: func(s oracle.State) {
			fmt.Printf("\r~ %s\n", s.Status())
		},
		OnTurn: func(t oracle.Turn) {
			if t.User != "" {
				fmt.Printf("  you:    %s\n", t.User)
			}
			if t.Oracle != "" {
				fmt.Printf("  oracle: %s\n", t.Oracle)
			}
		},
		OnError: func(message string) {
			fmt.Printf("\r! %s\n", message)
		},
	})

	fmt.Println("The Mystical Oracle awaits. Press Enter to open a channel, q to leave.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			if err := ctrl.Stop(); err != nil {
				logger.Warn("session stop failed", "error", err)
			}
			return
		case line, ok := <-lines:
			if !ok || line == "q" {
				if err := ctrl.Stop(); err != nil {
					logger.Warn("session stop failed", "error", err)
				}
				fmt.Println("Farewell, seeker.")
				return
			}
			if ctrl.State() == oracle.StateIdle {
				if err := ctrl.Start(ctx); err != nil {
					fmt.Printf("! the channel would not open: %v\n", err)
				}
			} else {
				if err := ctrl.Stop(); err != nil {
					logger.Warn("session stop failed", "error", err)
				}
			}
		}
	}
}
