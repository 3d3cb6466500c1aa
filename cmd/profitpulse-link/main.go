// Command profitpulse-link drives the broker credential-link flow from
// a terminal: it logs in to a running profitpulse-server, opens the
// broker login page in the local browser, and waits for the handshake
// to complete.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nisargdongare/ProfitPulse/internal/link"
	"github.com/nisargdongare/ProfitPulse/pkg/profitpulse"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		serverURL = flag.String("server", "http://localhost:8080", "profitpulse-server base URL")
		email     = flag.String("email", os.Getenv("PROFITPULSE_EMAIL"), "admin account email")
		password  = flag.String("password", os.Getenv("PROFITPULSE_PASSWORD"), "admin account password")
		apiKey    = flag.String("api-key", os.Getenv("ZERODHA_API_KEY"), "Zerodha API key")
		apiSecret = flag.String("api-secret", os.Getenv("ZERODHA_API_SECRET"), "Zerodha API secret")
		wait      = flag.Duration("wait", 5*time.Minute, "how long to wait for the handshake")
	)
	flag.Parse()

	if *email == "" || *password == "" || *apiKey == "" || *apiSecret == "" {
		flag.Usage()
		log.Fatal("email, password, api-key and api-secret are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := profitpulse.NewClient(*serverURL)

	user, err := client.Login(ctx, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	fmt.Printf("logged in as %s\n", user.Email)

	attempt, err := client.OpenLink(ctx, *apiKey, *apiSecret)
	if err != nil {
		log.Fatalf("could not start link: %v", err)
	}

	if err := (link.BrowserOpener{}).Open(attempt.LoginURL); err != nil {
		fmt.Printf("could not open a browser, visit manually:\n  %s\n", attempt.LoginURL)
	} else {
		fmt.Println("complete the broker login in the opened browser window")
	}

	deadline := time.Now().Add(*wait)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Fatal("interrupted")
		case <-ticker.C:
		}

		status, err := client.GetLinkStatus(ctx)
		if err != nil {
			log.Fatalf("could not read link status: %v", err)
		}
		if status.Linked() {
			fmt.Println("broker account linked")
			return
		}
		if status.FetchError != "" {
			log.Fatalf("link failed: %s", status.FetchError)
		}
		if time.Now().After(deadline) {
			log.Fatalf("gave up waiting, status is still %q", status.Status)
		}
	}
}
