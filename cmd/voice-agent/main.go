// Package main is the terminal shell for the voice-agent client: it
// wires the microphone, speaker, session engine and barge-in detector
// together and prints the live transcript.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
