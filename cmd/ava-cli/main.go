// Package main provides a command line client that submits a recorded clip to
// the assistant and prints the session's events as they arrive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/ava/internal/transport/ws"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Assistant server address")
	sessionID := flag.String("session", "", "Session (device) id; random when empty")
	file := flag.String("file", "", "Audio clip to submit")
	timeout := flag.Duration("timeout", 5*time.Minute, "Give up waiting after this long")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: ava-cli -file clip.webm [-addr url] [-session id]")
		os.Exit(2)
	}
	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	fmt.Printf("Connecting to %s as session %s...\n", *addr, *sessionID)

	client, err := NewClient(ctx, *addr, *sessionID)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	// Unblock Watch when interrupted or timed out
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	done := make(chan error, 1)
	go func() {
		done <- client.Watch(printMessage)
	}()

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("Failed to open clip: %v", err)
	}
	status, err := client.Submit(ctx, *file, f)
	f.Close()
	if err != nil {
		log.Fatalf("Submit failed: %v", err)
	}
	fmt.Printf("Submitted, status: %s\n", status)

	if err := <-done; err != nil {
		if ctx.Err() != nil {
			log.Fatalf("Stopped waiting: %v", ctx.Err())
		}
		log.Fatalf("%v", err)
	}
	fmt.Println("Done.")
}

func printMessage(msg ws.Message) {
	var pretty map[string]any
	if err := json.Unmarshal(msg.Data, &pretty); err != nil {
		fmt.Printf("\n[%s] %s\n", msg.Event, msg.Data)
		return
	}
	formatted, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Printf("\n[%s] %s\n%s\n", msg.Event, msg.ID, formatted)
}
