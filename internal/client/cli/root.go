package cli

import (
	"bufio"
	"context"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/connection"
	"github.com/dmitrijs2005/duodeck/internal/models"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *App) getStatus() string {
	self := a.self()
	if self == nil {
		return ""
	}
	s := shortID(self.ID)
	if a.Mode == ModeOffline {
		return fmt.Sprintf("(%s offline)", s)
	}
	state := a.machine.State()
	switch {
	case state.Loading:
		s += " loading"
	case state.ConnectionStatus != "":
		s += " " + string(state.ConnectionStatus)
	}
	return fmt.Sprintf("(%s)", s)
}

// announce prints partner changes pushed by the connection machine.
func (a *App) announce() func(connection.State) {
	var last connection.State
	return func(s connection.State) {
		prev := last
		last = s
		switch {
		case s.Connected() && !prev.Connected():
			printlnFn("* connected with", shortID(s.Partner.ID))
		case s.ConnectionStatus == models.StatusBroken && prev.ConnectionStatus != models.StatusBroken:
			printlnFn("* the pair was dissolved")
		}
	}
}

// Root logs in and runs the REPL on stdin until the user leaves.
func (a *App) Root(ctx context.Context) {
	printlnFn("Welcome to DuoDeck CLI (type 'help' for commands)")

	unwatch := a.machine.Watch(a.announce())
	defer unwatch()

	_ = a.Login(ctx)
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}
