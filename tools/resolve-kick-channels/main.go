package main

import (
	"context"
	"fmt"
	"os"

	"github.com/john/chatvoice/internal/kick"
)

type resolved struct {
	slug       string
	chatroomID int
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: resolve-kick-channels <channel1> [channel2] ...")
		fmt.Println("\nExample:")
		fmt.Println("  resolve-kick-channels paymoneywubby xqc")
		os.Exit(1)
	}

	channels := os.Args[1:]
	fmt.Printf("Resolving %d Kick channel(s)...\n\n", len(channels))

	resolver := kick.NewResolver(os.Getenv("KICK_API_BASE"), nil)
	var results []resolved
	failures := make(map[string]string)

	for _, channel := range channels {
		id, slug, err := resolver.Resolve(context.Background(), channel)
		if err != nil {
			failures[channel] = err.Error()
			continue
		}
		results = append(results, resolved{slug: slug, chatroomID: id})
	}

	if len(results) > 0 {
		fmt.Println("✓ Successfully resolved:")
		fmt.Println("---")
		for _, r := range results {
			fmt.Printf("%s: %d\n", r.slug, r.chatroomID)
		}
		fmt.Println()
	}

	if len(failures) > 0 {
		fmt.Println("✗ Failed to resolve:")
		fmt.Println("---")
		for slug, err := range failures {
			fmt.Printf("%s: %s\n", slug, err)
		}
		fmt.Println()
	}

	// Only one Kick channel is read at a time, so the snippet uses the first
	if len(results) > 0 {
		fmt.Println("Add this to your config.yaml:")
		fmt.Println("---")
		fmt.Println("kick:")
		fmt.Println("  enabled: true")
		fmt.Printf("  channel: %s\n", results[0].slug)
		fmt.Printf("  chatroom_id: %d\n", results[0].chatroomID)
	}
}
