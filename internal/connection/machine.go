// Package connection keeps the client-side view of one identity's pairing:
// its connection status, its pair and the loaded partner.
//
// The identity change feed is the only writer of that view. Actions such as
// GenerateInvite or Breakup only issue store writes and then read the
// identity back once; both the read-back and the feed go through the same
// version gate, so an older snapshot never replaces a newer one.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/pairing"
)

// ErrSessionActive is returned by Login while another identity is logged in.
var ErrSessionActive = errors.New("another identity is logged in")

// State is the reactive view handed to the presentation layer.
type State struct {
	Partner          *models.PublicIdentity
	ConnectionStatus models.ConnectionStatus
	PairID           string
	Loading          bool
}

// Connected reports whether a partner is bound and loaded.
func (s State) Connected() bool {
	return s.ConnectionStatus == models.StatusConnected && s.PairID != "" && s.Partner != nil
}

// Identities is the part of the identity collection the machine observes.
type Identities interface {
	Snapshot(ctx context.Context, id string) (*models.Identity, int64, error)
	Watch(ctx context.Context, id string, fn func(identity *models.Identity, version int64)) (func(), error)
}

// Pairing issues the store writes behind the user actions.
type Pairing interface {
	IssueInvite(ctx context.Context, issuerID, issuerPublicKey string) (*models.InviteCode, error)
	AcceptInvite(ctx context.Context, code, accepterID string) (*pairing.AcceptResult, error)
	Breakup(ctx context.Context, identityID, pairID string) error
	GetPartner(ctx context.Context, selfID, pairID string) (*models.PublicIdentity, error)
}

// Secrets is the shared secret cache.
type Secrets interface {
	GetOrDerive(ctx context.Context, pairID, partnerPublicKey string) ([]byte, error)
	Evict(pairID string)
	EvictAll()
}

// IdentityCache persists the last seen identity for offline start-up.
type IdentityCache interface {
	Load(ctx context.Context) (*models.Identity, error)
	Save(ctx context.Context, identity *models.Identity) error
	Clear(ctx context.Context) error
}

type session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// loadToken identifies one partner load. A completion whose token is no
// longer current is dropped.
type loadToken struct {
	partnerID string
	pairID    string
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

// Machine owns the State of one running client.
type Machine struct {
	identities Identities
	pairing    Pairing
	secrets    Secrets
	cache      IdentityCache
	log        logging.Logger

	mu        sync.Mutex
	session   *session
	self      *models.Identity
	version   int64
	synced    bool
	state     State
	load      *loadToken
	gen       uint64
	loads     sync.WaitGroup
	watchers  map[int]func(State)
	watcherID int

	notifyMu sync.Mutex
}

// NewMachine returns a logged out machine. cache may be nil.
func NewMachine(identities Identities, p Pairing, secrets Secrets, cache IdentityCache, log logging.Logger) *Machine {
	return &Machine{
		identities: identities,
		pairing:    p,
		secrets:    secrets,
		cache:      cache,
		log:        logging.OrNop(log).With("module", "connection"),
		watchers:   make(map[int]func(State)),
	}
}

// State returns the current view.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() State {
	s := m.state
	if s.Partner != nil {
		p := *s.Partner
		s.Partner = &p
	}
	s.Loading = m.session != nil && (!m.synced || m.load != nil)
	return s
}

// Self returns the logged in identity id, or "" when logged out.
func (m *Machine) Self() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.self.ID
}

// Watch calls fn with the current State and after every change until the
// returned cancel func is called. fn must not call back into the Machine.
func (m *Machine) Watch(fn func(State)) func() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	id := m.watcherID
	m.watcherID++
	m.watchers[id] = fn
	s := m.snapshotLocked()
	m.mu.Unlock()

	fn(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}

// publish hands the latest State to every watcher. Watchers never run
// concurrently and always see the State as of the call.
func (m *Machine) publish() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	s := m.snapshotLocked()
	fns := make([]func(State), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Login starts a session for identity and subscribes to its document. A
// second Login for the same identity is a no-op. The cached identity, if any,
// is shown until the first snapshot arrives.
func (m *Machine) Login(ctx context.Context, identity *models.Identity) error {
	m.mu.Lock()
	if m.session != nil {
		same := m.self.ID == identity.ID
		m.mu.Unlock()
		if same {
			return nil
		}
		return ErrSessionActive
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{ctx: sctx, cancel: cancel}
	m.session = sess
	m.self = &models.Identity{ID: identity.ID, PublicKey: identity.PublicKey}
	m.version = 0
	m.synced = false
	m.state = State{ConnectionStatus: models.StatusUnpaired}
	m.mu.Unlock()

	if m.cache != nil {
		cached, err := m.cache.Load(ctx)
		switch {
		case err != nil:
			m.log.Warn(ctx, "identity cache unreadable", "error", err)
		case cached != nil && cached.ID == identity.ID:
			m.apply(ctx, sess, cached, 0, false)
		}
	}

	unsubscribe, err := m.identities.Watch(sctx, identity.ID, func(snap *models.Identity, version int64) {
		if snap == nil {
			m.deleted(sctx, sess)
			return
		}
		m.apply(sctx, sess, snap, version, true)
	})
	if err != nil {
		m.teardown(sess)
		m.publish()
		return fmt.Errorf("subscribe identity: %w", err)
	}

	m.mu.Lock()
	current := m.session == sess
	if current {
		sess.unsubscribe = unsubscribe
	}
	m.mu.Unlock()
	if !current {
		unsubscribe()
		return nil
	}

	m.log.Info(ctx, "logged in", "identity_id", identity.ID)
	m.publish()
	return nil
}

// Logout tears down the subscription, cancels partner loading and forgets
// every cached secret and the cached identity.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return nil
	}

	m.teardown(sess)
	m.loads.Wait()
	m.secrets.EvictAll()

	var err error
	if m.cache != nil {
		err = m.cache.Clear(ctx)
	}
	m.publish()
	m.log.Info(ctx, "logged out")
	return err
}

// Close ends the session like Logout but keeps the cached identity for the
// next offline start.
func (m *Machine) Close() {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return
	}

	m.teardown(sess)
	m.loads.Wait()
	m.secrets.EvictAll()
	m.publish()
}

func (m *Machine) teardown(sess *session) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.self = nil
	m.version = 0
	m.synced = false
	m.state = State{}
	m.dropLoadLocked()
	unsubscribe := sess.unsubscribe
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	sess.cancel()
}

// apply folds an identity snapshot into the State. Snapshots older than the
// last applied version are discarded.
func (m *Machine) apply(ctx context.Context, sess *session, snap *models.Identity, version int64, persist bool) {
	m.mu.Lock()
	if m.session != sess || snap.ID != m.self.ID || version < m.version {
		m.mu.Unlock()
		return
	}
	m.version = version
	if version > 0 {
		m.synced = true
	}

	prevPair := m.state.PairID
	pairID := snap.PairIDValue()
	m.self = snap.Clone()
	m.state.ConnectionStatus = snap.ConnectionStatus
	m.state.PairID = pairID

	connected := snap.ConnectionStatus == models.StatusConnected && pairID != ""
	if !connected || pairID != prevPair {
		m.state.Partner = nil
		m.dropLoadLocked()
	}
	if connected {
		m.startLoadLocked(sess, pairID)
	}
	m.mu.Unlock()

	if prevPair != "" && (!connected || pairID != prevPair) {
		m.secrets.Evict(prevPair)
	}
	if persist && m.cache != nil {
		if err := m.cache.Save(ctx, snap); err != nil {
			m.log.Warn(ctx, "identity cache not updated", "error", err)
		}
	}
	m.publish()
}

// deleted handles the removal of the identity document.
func (m *Machine) deleted(ctx context.Context, sess *session) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	prevPair := m.state.PairID
	m.synced = true
	m.state = State{ConnectionStatus: models.StatusUnpaired}
	m.dropLoadLocked()
	m.mu.Unlock()

	m.log.Warn(ctx, "identity document deleted", "identity_id", m.Self())
	if prevPair != "" {
		m.secrets.Evict(prevPair)
	}
	m.publish()
}

func partnerOf(pairID, selfID string) string {
	a, b, err := models.PairMembers(pairID)
	switch {
	case err != nil:
		return pairID
	case a == selfID:
		return b
	default:
		return a
	}
}

// startLoadLocked loads the partner of pairID unless it is already loaded or
// being loaded. A load for another partner is superseded.
func (m *Machine) startLoadLocked(sess *session, pairID string) {
	target := partnerOf(pairID, m.self.ID)
	if m.state.Partner != nil && m.state.Partner.ID == target {
		return
	}
	if m.load != nil {
		if m.load.partnerID == target && m.load.pairID == pairID {
			return
		}
		m.dropLoadLocked()
	}

	ctx, cancel := context.WithCancel(sess.ctx)
	m.gen++
	tok := &loadToken{partnerID: target, pairID: pairID, gen: m.gen, cancel: cancel, done: make(chan struct{})}
	m.load = tok
	selfID := m.self.ID

	m.loads.Add(1)
	go func() {
		defer m.loads.Done()
		m.loadPartner(ctx, tok, selfID)
	}()
}

func (m *Machine) dropLoadLocked() {
	if m.load == nil {
		return
	}
	m.load.cancel()
	close(m.load.done)
	m.load = nil
}

func (m *Machine) loadPartner(ctx context.Context, tok *loadToken, selfID string) {
	partner, err := m.pairing.GetPartner(ctx, selfID, tok.pairID)

	m.mu.Lock()
	if m.load != tok {
		m.mu.Unlock()
		m.log.Debug(ctx, "stale partner load dropped", "pair_id", tok.pairID, "gen", tok.gen)
		return
	}
	tok.cancel()
	close(tok.done)
	m.load = nil
	if err == nil && partner != nil {
		m.state.Partner = partner
	}
	m.mu.Unlock()

	switch {
	case err != nil:
		m.log.Warn(ctx, "partner not loaded", "pair_id", tok.pairID, "error", err)
	case partner == nil:
		m.log.Warn(ctx, "partner missing", "pair_id", tok.pairID)
	}
	m.publish()
}

// current returns the live session and identity, or ErrNotLoggedIn.
func (m *Machine) current() (*session, models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, models.Identity{}, common.ErrNotLoggedIn
	}
	return m.session, *m.self, nil
}

// readBack applies one fresh snapshot after a write so the view does not wait
// for the feed. Failures are left to the feed.
func (m *Machine) readBack(ctx context.Context, sess *session, id string) {
	snap, version, err := m.identities.Snapshot(ctx, id)
	if err != nil {
		m.log.Debug(ctx, "read-back skipped", "error", err)
		return
	}
	m.apply(ctx, sess, snap, version, true)
}

// GenerateInvite issues an invite code for the logged in identity.
func (m *Machine) GenerateInvite(ctx context.Context) (*models.InviteCode, error) {
	sess, self, err := m.current()
	if err != nil {
		return nil, err
	}
	invite, err := m.pairing.IssueInvite(ctx, self.ID, self.PublicKey)
	if err != nil {
		return nil, err
	}
	m.readBack(ctx, sess, self.ID)
	return invite, nil
}

// AcceptInvite redeems code for the logged in identity.
func (m *Machine) AcceptInvite(ctx context.Context, code string) (*pairing.AcceptResult, error) {
	sess, self, err := m.current()
	if err != nil {
		return nil, err
	}
	res, err := m.pairing.AcceptInvite(ctx, code, self.ID)
	if err != nil {
		return nil, err
	}
	m.readBack(ctx, sess, self.ID)
	return res, nil
}

// Breakup dissolves the current pair.
func (m *Machine) Breakup(ctx context.Context) error {
	sess, self, err := m.current()
	if err != nil {
		return err
	}
	pairID := self.PairIDValue()
	if pairID == "" {
		return common.ErrNotConnected
	}
	if err := m.pairing.Breakup(ctx, self.ID, pairID); err != nil {
		return err
	}
	m.secrets.Evict(pairID)
	m.readBack(ctx, sess, self.ID)
	return nil
}

// SharedSecret returns the current pair id and its shared secret, waiting for
// an in-flight partner load to finish.
func (m *Machine) SharedSecret(ctx context.Context) (string, []byte, error) {
	for {
		m.mu.Lock()
		if m.session == nil {
			m.mu.Unlock()
			return "", nil, common.ErrNotLoggedIn
		}
		s, tok := m.state, m.load
		m.mu.Unlock()

		if s.ConnectionStatus != models.StatusConnected || s.PairID == "" {
			return "", nil, common.ErrNotConnected
		}
		if s.Partner != nil {
			secret, err := m.secrets.GetOrDerive(ctx, s.PairID, s.Partner.PublicKey)
			if err != nil {
				return "", nil, err
			}
			return s.PairID, secret, nil
		}
		if tok == nil {
			return "", nil, fmt.Errorf("partner not loaded: %w", common.ErrNotConnected)
		}

		select {
		case <-tok.done:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
}
