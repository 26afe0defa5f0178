package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/implus/implink/internal/daemon"
	"github.com/implus/implink/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	userFlag := flag.String("user", "", "bootstrap the session profile with this user id")
	nameFlag := flag.String("name", "", "display name for the bootstrapped profile")
	groupFlag := flag.String("group", "", "default group room joined at connect")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			UserID:      *userFlag,
			UserName:    *nameFlag,
			GroupHint:   *groupFlag,
		}),
	)

	app.Run()
}
