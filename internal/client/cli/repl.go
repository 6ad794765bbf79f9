package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error
	Invite(ctx context.Context) error
	Revoke(ctx context.Context, code string) error
	Accept(ctx context.Context, code string) error
	Partner(ctx context.Context) error
	Status(ctx context.Context) error
	Breakup(ctx context.Context) error
	AddText(ctx context.Context) error
	AddVoice(ctx context.Context, path string) error
	Draw(ctx context.Context) error
	Cooldown(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop for the DuoDeck CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. The loop exits on scanner EOF,
// on ctx cancellation or when the user types "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not logged in:
//	  - help            show available commands
//	  - login           unlock the keystore and load the identity
//	  - exit | quit     leave the program
//
//	Logged in:
//	  - whoami          show the device identity
//	  - invite          issue an invite code
//	  - revoke <code>   revoke an unused invite code
//	  - accept <code>   pair with the issuer of code
//	  - partner         show the partner
//	  - status          show the connection status
//	  - breakup         dissolve the pair
//	  - add             add a text card
//	  - addvoice <file> add a voice card
//	  - draw            draw a random unread card
//	  - cooldown        show when the next draw is allowed
//	  - logout          log out
//
// Handlers report their own errors to the user; the loop ignores them.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("dd> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: whoami, invite, revoke <code>, accept <code>, partner, status, breakup, add, addvoice <file>, draw, cooldown, logout, exit")
			} else {
				printlnFn("Available commands: login, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "whoami":
			_ = a.Whoami(ctx)

		case "invite":
			_ = a.Invite(ctx)

		case "revoke":
			if len(args) != 1 {
				printlnFn("Usage: revoke <code>")
				continue
			}
			_ = a.Revoke(ctx, strings.ToUpper(args[0]))

		case "accept":
			if len(args) != 1 {
				printlnFn("Usage: accept <code>")
				continue
			}
			_ = a.Accept(ctx, strings.ToUpper(args[0]))

		case "partner":
			_ = a.Partner(ctx)

		case "status":
			_ = a.Status(ctx)

		case "breakup":
			_ = a.Breakup(ctx)

		case "add":
			_ = a.AddText(ctx)

		case "addvoice":
			if len(args) != 1 {
				printlnFn("Usage: addvoice <file>")
				continue
			}
			_ = a.AddVoice(ctx, args[0])

		case "draw":
			_ = a.Draw(ctx)

		case "cooldown":
			_ = a.Cooldown(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
