package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/service"
	"golang.org/x/term"
)

// issue-token signs a token for local testing. Production tokens come from
// the identity service; this only needs the shared secret.
func main() {
	var (
		kind   string
		userID int
		ttl    time.Duration
		perms  string
		prompt bool
	)
	flag.StringVar(&kind, "type", "student", "Token type: student or admin")
	flag.IntVar(&userID, "user", 0, "Student or admin ID")
	flag.DurationVar(&ttl, "ttl", 4*time.Hour, "Token lifetime")
	flag.StringVar(&perms, "perms", "", "Comma-separated admin permissions, e.g. exams:monitor,exams:read")
	flag.BoolVar(&prompt, "prompt-secret", false, "Read the signing secret from the terminal instead of JWT_SECRET")
	flag.Parse()

	tokenType := service.TokenType(kind)
	if tokenType != service.TokenTypeStudent && tokenType != service.TokenTypeAdmin {
		fmt.Fprintln(os.Stderr, "Error: -type must be student or admin")
		os.Exit(2)
	}
	if userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		os.Exit(2)
	}

	secret := config.Load().JWTSecret
	if prompt {
		fmt.Fprint(os.Stderr, "Enter JWT secret: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error reading secret")
			os.Exit(1)
		}
		secret = string(raw)
	}

	var permissions []string
	for _, p := range strings.Split(perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			permissions = append(permissions, p)
		}
	}

	token, err := service.NewAuthService(secret).IssueToken(tokenType, userID, ttl, permissions...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
