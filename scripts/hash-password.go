package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Prints a bcrypt hash for ADMIN_TOKEN_HASH. Without an argument a random
// token is generated and printed alongside its hash.
func main() {
	token := ""
	if len(os.Args) >= 2 {
		token = os.Args[1]
	} else {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		token = hex.EncodeToString(raw)
		fmt.Printf("token: %s\n", token)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), 12)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ADMIN_TOKEN_HASH=%s\n", string(hash))
}
