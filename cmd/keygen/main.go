package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

func main() {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	key := "gov_" + hex.EncodeToString(buf)

	fmt.Printf("API Key: %s\n", key)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Println("server:")
	fmt.Println("  api_keys:")
	fmt.Printf("    - %q\n", key)
}
