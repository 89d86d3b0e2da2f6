// Package main is the entry point for the word filter load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - filter:  concurrent POST /api/filter requests
//   - preview: many live-preview sockets sending drafts
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "filter":
		runFilter(os.Args[2:])
	case "preview":
		runPreview(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  filter      Pipeline hook load test: concurrent POST /api/filter requests")
	fmt.Println("  preview     Live preview load test: N sockets each sending drafts")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// sampleDocument builds a document of roughly size bytes that mixes clean
// prose with the words the sample config filters.
func sampleDocument(size int) string {
	const para = "This is a perfectly fine sentence. This one is BAD and rather Mean. " +
		"Nothing awful here, or is there? "
	var b strings.Builder
	for b.Len() < size {
		b.WriteString(para)
	}
	return b.String()
}
