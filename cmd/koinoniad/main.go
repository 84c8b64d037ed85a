package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gmcamargo/koinonia/internal/daemon"
	"github.com/gmcamargo/koinonia/internal/session"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	// Local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName}),
	)

	app.Run()
}
