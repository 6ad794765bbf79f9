package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/deck"
	"github.com/dmitrijs2005/duodeck/internal/filex"
	"github.com/dmitrijs2005/duodeck/internal/models"
)

// report prints err in a form fit for the user.
func (a *App) report(err error) {
	var (
		ce *common.CooldownError
		de *common.DomainError
	)
	switch {
	case errors.As(err, &ce):
		fmt.Fprintf(a.out, "Cooldown is active, next draw in %d min.\n", ce.RemainingMinutes())
	case errors.As(err, &de):
		fmt.Fprintln(a.out, "Error:", de.Message)
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintln(a.out, "Error: request timed out")
	default:
		fmt.Fprintln(a.out, "Error:", err)
	}
}

// run executes fn with a bounded context once the client is online and
// reports its error.
func (a *App) run(ctx context.Context, fn func(ctx context.Context, self *models.Identity) error) error {
	if err := a.online(); err != nil {
		a.report(err)
		return err
	}
	cctx, cancel := a.command(ctx)
	defer cancel()
	if err := fn(cctx, a.self()); err != nil {
		a.report(err)
		return err
	}
	return nil
}

func (a *App) Whoami(ctx context.Context) error {
	self := a.self()
	if self == nil {
		a.report(common.ErrNotLoggedIn)
		return common.ErrNotLoggedIn
	}
	fmt.Fprintf(a.out, "Identity:   %s\nPublic key: %s\nMode:       %s\n", self.ID, self.PublicKey, a.Mode)
	return nil
}

func (a *App) Invite(ctx context.Context) error {
	return a.run(ctx, func(ctx context.Context, _ *models.Identity) error {
		invite, err := a.machine.GenerateInvite(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Invite code: %s (valid until %s)\n", invite.Code, invite.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	})
}

func (a *App) Revoke(ctx context.Context, code string) error {
	return a.run(ctx, func(ctx context.Context, self *models.Identity) error {
		if err := a.pairing.RevokeInvite(ctx, code, self.ID); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Invite revoked.")
		return nil
	})
}

func (a *App) Accept(ctx context.Context, code string) error {
	return a.run(ctx, func(ctx context.Context, _ *models.Identity) error {
		res, err := a.machine.AcceptInvite(ctx, code)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Paired. Pair %s\n", res.PairID)
		return nil
	})
}

func (a *App) Partner(ctx context.Context) error {
	if !a.isLoggedIn() {
		a.report(common.ErrNotLoggedIn)
		return common.ErrNotLoggedIn
	}
	s := a.machine.State()
	switch {
	case s.Partner != nil:
		fmt.Fprintf(a.out, "Partner:    %s\nPublic key: %s\n", s.Partner.ID, s.Partner.PublicKey)
	case s.Loading:
		fmt.Fprintln(a.out, "Partner is loading...")
	default:
		fmt.Fprintln(a.out, "No partner.")
	}
	return nil
}

func (a *App) Status(ctx context.Context) error {
	if !a.isLoggedIn() {
		a.report(common.ErrNotLoggedIn)
		return common.ErrNotLoggedIn
	}
	s := a.machine.State()
	fmt.Fprintf(a.out, "Status: %s\n", s.ConnectionStatus)
	if s.PairID != "" {
		fmt.Fprintf(a.out, "Pair:   %s\n", s.PairID)
	}
	return nil
}

func (a *App) Breakup(ctx context.Context) error {
	return a.run(ctx, func(ctx context.Context, _ *models.Identity) error {
		ok, err := GetConfirmation(a.reader, "Break up? All cards of the pair are deleted.", a.out)
		if err != nil || !ok {
			return err
		}
		if err := a.machine.Breakup(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Pair dissolved.")
		return nil
	})
}

// AddText reads a text card and stores it encrypted.
func (a *App) AddText(ctx context.Context) error {
	return a.run(ctx, func(ctx context.Context, self *models.Identity) error {
		text, err := GetMultiline(a.reader, "Card text:", a.out)
		if err != nil {
			return err
		}
		return a.addCard(ctx, deck.NewCard{CreatorID: self.ID, ContentType: models.ContentText, Text: text})
	})
}

// AddVoice stores the audio file at path as an encrypted voice card.
func (a *App) AddVoice(ctx context.Context, path string) error {
	return a.run(ctx, func(ctx context.Context, self *models.Identity) error {
		audio, err := filex.ReadLimited(path, deck.MaxVoiceBytes)
		if err != nil {
			return err
		}
		return a.addCard(ctx, deck.NewCard{CreatorID: self.ID, ContentType: models.ContentVoice, Audio: audio})
	})
}

func (a *App) addCard(ctx context.Context, in deck.NewCard) error {
	pairID, secret, err := a.machine.SharedSecret(ctx)
	if err != nil {
		return err
	}
	in.PairID = pairID
	card, err := a.deck.CreateCard(ctx, in, secret)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Card %s added.\n", card.ID)
	return nil
}

// Draw reveals a random unread card. Voice cards are written to voiceDir.
func (a *App) Draw(ctx context.Context) error {
	return a.run(ctx, func(ctx context.Context, self *models.Identity) error {
		pairID, secret, err := a.machine.SharedSecret(ctx)
		if err != nil {
			return err
		}
		card, err := a.deck.DrawRandomCard(ctx, pairID, self.ID)
		if err != nil {
			return err
		}
		content, err := a.deck.DecryptCard(ctx, card, secret)
		if err != nil {
			return err
		}

		if content.Type == models.ContentVoice {
			dir, err := filex.EnsureDir(a.voiceDir)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, "card-"+card.ID+".audio")
			if err := os.WriteFile(path, content.Audio, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Voice card saved to %s\n", path)
			return nil
		}
		fmt.Fprintf(a.out, "\n%s\n\n", content.Text)
		return nil
	})
}

func (a *App) Cooldown(ctx context.Context) error {
	return a.run(ctx, func(ctx context.Context, self *models.Identity) error {
		s := a.machine.State()
		if !s.Connected() {
			return common.ErrNotConnected
		}
		status, err := a.deck.CheckCooldown(ctx, s.PairID, self.ID)
		if err != nil {
			return err
		}
		if status.Allowed {
			fmt.Fprintln(a.out, "You can draw now.")
			return nil
		}
		fmt.Fprintf(a.out, "Next draw in %d min.\n", status.RemainingMinutes())
		return nil
	})
}
