package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/duodeck/internal/blobstore"
	"github.com/dmitrijs2005/duodeck/internal/client/account"
	"github.com/dmitrijs2005/duodeck/internal/client/config"
	"github.com/dmitrijs2005/duodeck/internal/client/keystore"
	"github.com/dmitrijs2005/duodeck/internal/connection"
	"github.com/dmitrijs2005/duodeck/internal/cryptox"
	"github.com/dmitrijs2005/duodeck/internal/deck"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/docstore/postgres"
	"github.com/dmitrijs2005/duodeck/internal/docstore/remote"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/pairing"
	"github.com/dmitrijs2005/duodeck/internal/repositories/repomanager"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// App is one running client: a single device identity and its services.
type App struct {
	config *config.Config
	logger logging.Logger
	out    io.Writer
	reader *bufio.Reader

	store   docstore.Store
	sealed  *keystore.SealedStore
	account *account.Account
	secrets *cryptox.SecretCache
	pairing *pairing.Service
	deck    *deck.Service
	machine *connection.Machine

	// voiceDir receives drawn voice cards.
	voiceDir string

	mu       sync.Mutex
	identity *models.Identity
	Mode     Mode

	closers []func() error
}

// NewApp opens the keystore and the document store named by c and wires the
// services. With DatabaseDSN set the client talks to PostgreSQL directly and
// voice cards are unavailable; otherwise it uses the gRPC server, which also
// presigns blob URLs.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stderr, c.LogLevel, c.LogFormat)

	kv, db, err := keystore.OpenSQLite(ctx, c.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	closers := []func() error{db.Close}
	fail := func(err error) (*App, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	var (
		store docstore.Store
		blobs blobstore.Store
	)
	if c.DatabaseDSN != "" {
		pg, err := postgres.Open(ctx, c.DatabaseDSN, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("migrate: %w", err))
		}
		store = pg
	} else {
		rs, err := remote.Dial(c.ServerEndpointAddr, c.AccessToken, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rs.Close)
		store = rs
		blobs = blobstore.NewPresignedStore(rs, nil, deck.MaxVoiceBytes)
	}

	sealed := keystore.NewSealedStore(kv)
	a := newApp(c, store, blobs, sealed, logger)
	a.sealed = sealed
	a.closers = closers
	return a, nil
}

// newApp wires the services over already opened stores.
func newApp(c *config.Config, store docstore.Store, blobs blobstore.Store, keys keystore.Store, logger logging.Logger) *App {
	rm := repomanager.NewDocumentRepositoryManager()
	acc := account.New(keys, rm.Identities(store), logger)
	secrets := cryptox.NewSecretCache(acc)
	p := pairing.NewService(store, rm, blobs, secrets, logger)

	return &App{
		config:   c,
		logger:   logging.OrNop(logger),
		out:      os.Stdout,
		reader:   bufio.NewReader(os.Stdin),
		store:    store,
		account:  acc,
		secrets:  secrets,
		pairing:  p,
		deck:     deck.NewService(store, rm, blobs, logger),
		machine:  connection.NewMachine(rm.Identities(store), p, secrets, acc.Cache(), logger),
		voiceDir: ".",
	}
}

func (a *App) setMode(mode Mode) {
	if a.Mode != mode {
		a.Mode = mode
		a.logger.Info(context.Background(), "mode changed", "mode", mode)
	}
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity != nil
}

func (a *App) self() *models.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// command bounds one interactive command by the configured timeout.
func (a *App) command(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config == nil || a.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.RequestTimeout)
}

// Run starts the REPL and releases everything on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	a.Root(ctx)
	return nil
}

// Close logs out and closes the stores. The cached identity is kept for the
// next offline start.
func (a *App) Close() error {
	a.mu.Lock()
	a.identity = nil
	a.mu.Unlock()

	a.machine.Close()
	var errs []error
	if a.sealed != nil {
		a.sealed.Lock()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
