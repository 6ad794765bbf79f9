package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/client/keystore"
	"github.com/dmitrijs2005/duodeck/internal/common"
)

// getPassword is an indirection over GetPassword used by tests.
var getPassword = GetPassword

// unlock asks for the device passphrase until the sealed keystore opens. A
// fresh keystore asks twice and sets the passphrase.
func (a *App) unlock(ctx context.Context) error {
	if a.sealed == nil {
		return nil
	}
	initialized, err := a.sealed.Initialized(ctx)
	if err != nil {
		return err
	}

	pw, err := getPassword("Enter device passphrase", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	if !initialized {
		again, err := getPassword("Repeat passphrase", a.out)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(again)
		if string(pw) != string(again) {
			return errors.New("passphrases do not match")
		}
	}

	if err := a.sealed.Unlock(ctx, string(pw)); err != nil {
		if errors.Is(err, keystore.ErrWrongPassphrase) {
			return err
		}
		return fmt.Errorf("unlock keystore: %w", err)
	}
	return nil
}

// Login unlocks the keystore, loads or creates the device identity and
// starts following it. When the store is unreachable the cached identity is
// shown in offline mode and no session is started.
func (a *App) Login(ctx context.Context) error {
	retry := a.isLoggedIn()
	if retry && a.Mode != ModeOffline {
		fmt.Fprintln(a.out, "Already logged in.")
		return nil
	}
	if !retry {
		if err := a.unlock(ctx); err != nil {
			a.report(err)
			return err
		}
	}

	cctx, cancel := a.command(ctx)
	defer cancel()

	identity, offline, err := a.account.Bootstrap(cctx)
	if err != nil {
		a.report(err)
		return err
	}

	if !offline {
		if err := a.machine.Login(cctx, identity); err != nil {
			if !common.IsRetryable(err) {
				a.report(err)
				return err
			}
			a.logger.Warn(ctx, "subscribe failed, staying offline", "error", err)
			offline = true
		}
	}

	a.mu.Lock()
	a.identity = identity
	a.mu.Unlock()

	if offline {
		a.setMode(ModeOffline)
		fmt.Fprintln(a.out, "Store unreachable, showing the cached identity. Type 'login' to retry.")
		return nil
	}
	a.setMode(ModeOnline)
	fmt.Fprintf(a.out, "Logged in as %s\n", identity.ID)
	return nil
}

// Logout ends the session and forgets cached secrets and the cached identity.
func (a *App) Logout(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Fprintln(a.out, "Not logged in.")
		return nil
	}
	err := a.machine.Logout(ctx)

	a.mu.Lock()
	a.identity = nil
	a.mu.Unlock()
	a.Mode = ""

	if a.sealed != nil {
		a.sealed.Lock()
	}
	if err != nil {
		a.report(err)
		return err
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

// online fails with common.ErrUnavailable while the client is offline.
func (a *App) online() error {
	if !a.isLoggedIn() {
		return common.ErrNotLoggedIn
	}
	if a.Mode == ModeOffline {
		return fmt.Errorf("offline: %w", common.ErrUnavailable)
	}
	return nil
}
