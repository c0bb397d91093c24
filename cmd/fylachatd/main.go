package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/FYLA-Organization/fylachat/internal/app"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	flag.Parse()

	token := os.Getenv("FYLACHAT_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: FYLACHAT_TOKEN is not set")
		os.Exit(1)
	}
	userID := os.Getenv("FYLACHAT_USER_ID")
	if userID == "" {
		fmt.Fprintln(os.Stderr, "error: FYLACHAT_USER_ID is not set")
		os.Exit(1)
	}

	application := fx.New(
		app.Module(app.Params{
			Profile:     *profileFlag,
			Token:       token,
			LocalUserID: userID,
		}),
	)

	application.Run()
}
