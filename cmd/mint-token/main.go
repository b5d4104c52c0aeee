// Command mint-token issues a signed identity token for local testing and
// for operators bridging an external login system.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		role       string
		userID     int
		askSecret  bool
		expiryHour int
	)
	flag.StringVar(&role, "role", "student", "Token role: student or teacher")
	flag.IntVar(&userID, "user", 0, "User ID carried in the token")
	flag.BoolVar(&askSecret, "prompt-secret", false, "Read the signing secret from the terminal instead of JWT_SECRET")
	flag.IntVar(&expiryHour, "expiry-hours", 0, "Override JWT_EXPIRY_HOURS")
	flag.Parse()

	cfg := config.Load()

	if userID <= 0 {
		fmt.Print("Enter User ID: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &userID); err != nil || userID <= 0 {
			fmt.Fprintln(os.Stderr, "Error: a positive user ID is required")
			os.Exit(1)
		}
	}

	secret := cfg.JWTSecret
	if askSecret {
		fmt.Print("Enter Signing Secret: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading secret: %v\n", err)
			os.Exit(1)
		}
		secret = strings.TrimSpace(string(raw))
		if secret == "" {
			fmt.Fprintln(os.Stderr, "Error: secret is required")
			os.Exit(1)
		}
	}

	expiry := cfg.JWTExpiry
	if expiryHour > 0 {
		expiry = time.Duration(expiryHour) * time.Hour
	}

	token, err := service.NewAuthService(secret, expiry).IssueToken(userID, service.Role(role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
