package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"bus-tracker/internal/cli"
)

func main() {
	var (
		sessionID = flag.String("session-id", "", "Ride session the token controls (required for DRIVER)")
		driver    = flag.String("driver", "", "Driver identity recorded in the token")
		role      = flag.String("role", "DRIVER", "Token role: DRIVER | OPERATOR")
		secret    = flag.String("secret", "", "JWT HMAC secret (HS256)")
		ttl       = flag.Duration("ttl", 2*time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: key --secret='<secret>' [--role=DRIVER --session-id=<id>] [--driver=driver1] [--ttl=2h]")
		os.Exit(2)
	}

	token, claims, err := cli.GenerateSessionToken(*secret, *ttl, *sessionID, *driver, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cli.PrintToken(os.Stdout, token, claims)
}
