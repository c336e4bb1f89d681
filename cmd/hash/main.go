// Package main generates bcrypt hashes for the admin bearer credential. The
// gate stores only the hash (VG_AUTH_ADMIN_TOKEN_HASH) — never the raw
// credential — so this tool is how an operator produces the value to put in
// configuration. With no argument it generates a fresh random credential and
// prints both.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	var credential string
	if len(os.Args) > 1 {
		credential = os.Args[1]
	} else {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			fmt.Fprintf(os.Stderr, "generating credential: %v\n", err)
			os.Exit(1)
		}
		credential = "vga_" + base64.RawURLEncoding.EncodeToString(raw)
		fmt.Printf("credential: %s\n", credential)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashing credential: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("hash: %s\n", string(hash))
}
