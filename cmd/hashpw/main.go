// Command hashpw reads a password and prints its Argon2id PHC hash for
// pasting into the termgate configuration.
//
// Usage:
//
//	hashpw            # prompts on stdin
//	echo -n s3cret | hashpw
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/termgate-dev/termgate/internal/auth"
)

func main() {
	reader := bufio.NewReader(os.Stdin)

	if isTerminal() {
		fmt.Fprint(os.Stderr, "Password: ")
	}
	password, err := reader.ReadString('\n')
	if err != nil && password == "" {
		fmt.Fprintln(os.Stderr, "hashpw: no password read")
		os.Exit(1)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "hashpw: empty password")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashpw: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func isTerminal() bool {
	info, err := os.Stdin.Stat()
	return err == nil && (info.Mode()&os.ModeCharDevice) != 0
}
