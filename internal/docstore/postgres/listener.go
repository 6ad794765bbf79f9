package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/jackc/pgx/v5"
)

type notification struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Version    int64  `json:"version"`
	Deleted    bool   `json:"deleted"`
}

// conn is the part of *pgx.Conn the listener needs.
type conn interface {
	Exec(ctx context.Context, sql string) error
	WaitForNotification(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

type pgxConn struct{ c *pgx.Conn }

func (p pgxConn) Exec(ctx context.Context, sql string) error {
	_, err := p.c.Exec(ctx, sql)
	return err
}

func (p pgxConn) WaitForNotification(ctx context.Context) (string, error) {
	n, err := p.c.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (p pgxConn) Close(ctx context.Context) error { return p.c.Close(ctx) }

// connect is a seam for tests; the default dials a dedicated pgx connection.
var connect = func(ctx context.Context, dsn string) (conn, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return pgxConn{c}, nil
}

const reconnectDelay = time.Second

// listener owns one LISTEN connection and hands every notification to
// onChange. It reconnects until stopped.
type listener struct {
	dsn      string
	log      logging.Logger
	onChange func(context.Context, notification)

	mu       sync.Mutex
	started  bool
	ready    chan struct{}
	startErr error
	cancel   context.CancelFunc
	done     chan struct{}
}

func newListener(dsn string, log logging.Logger, onChange func(context.Context, notification)) *listener {
	return &listener{dsn: dsn, log: log, onChange: onChange}
}

// start launches the listen loop once and waits until LISTEN is active.
func (l *listener) start(ctx context.Context) error {
	if l.dsn == "" {
		return fmt.Errorf("%w: change feed needs a dsn", common.ErrUnavailable)
	}

	l.mu.Lock()
	if !l.started {
		runCtx, cancel := context.WithCancel(context.Background())
		l.started = true
		l.cancel = cancel
		l.ready = make(chan struct{})
		l.startErr = nil
		l.done = make(chan struct{})
		go l.run(runCtx, l.ready, l.done)
	}
	ready := l.ready
	l.mu.Unlock()

	select {
	case <-ready:
		l.mu.Lock()
		defer l.mu.Unlock()
		err := l.startErr
		if err != nil && l.ready == ready {
			// first connect failed; let the next Subscribe try again
			l.started = false
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *listener) stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *listener) run(ctx context.Context, ready, done chan struct{}) {
	defer close(done)

	first := true
	for {
		c, err := l.listen(ctx)
		if first {
			first = false
			l.mu.Lock()
			if err != nil {
				l.startErr = fmt.Errorf("%w: listen: %v", common.ErrUnavailable, err)
			}
			close(ready)
			l.mu.Unlock()
			if err != nil {
				return
			}
		}
		if err == nil {
			err = l.receive(ctx, c)
			_ = c.Close(context.Background())
		}
		if ctx.Err() != nil {
			return
		}
		l.log.Warn(ctx, "change feed interrupted, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *listener) listen(ctx context.Context) (conn, error) {
	c, err := connect(ctx, l.dsn)
	if err != nil {
		return nil, err
	}
	if err := c.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (l *listener) receive(ctx context.Context, c conn) error {
	for {
		payload, err := c.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var n notification
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			l.log.Warn(ctx, "bad change notification", "error", err)
			continue
		}
		l.onChange(ctx, n)
	}
}
