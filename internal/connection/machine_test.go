package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/pairing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

// feedIdentities lets a test push identity snapshots by hand.
type feedIdentities struct {
	mu           sync.Mutex
	fn           func(*models.Identity, int64)
	watches      int
	unsubscribed int
	watchErr     error

	snap    *models.Identity
	version int64
}

func (f *feedIdentities) Watch(_ context.Context, _ string, fn func(*models.Identity, int64)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.fn = fn
	f.watches++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed++
	}, nil
}

func (f *feedIdentities) Snapshot(context.Context, string) (*models.Identity, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return nil, 0, common.ErrorNotFound
	}
	return f.snap.Clone(), f.version, nil
}

func (f *feedIdentities) push(snap *models.Identity, version int64) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn(snap, version)
}

// gatedPairing holds every GetPartner call until its pair's gate is closed.
type gatedPairing struct {
	mu           sync.Mutex
	calls        []string
	gates        map[string]chan struct{}
	ignoreCancel bool
}

func newGatedPairing() *gatedPairing {
	return &gatedPairing{gates: make(map[string]chan struct{})}
}

func (p *gatedPairing) gate(pairID string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[pairID]
	if !ok {
		g = make(chan struct{})
		p.gates[pairID] = g
	}
	return g
}

func (p *gatedPairing) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *gatedPairing) GetPartner(ctx context.Context, selfID, pairID string) (*models.PublicIdentity, error) {
	p.mu.Lock()
	p.calls = append(p.calls, pairID)
	p.mu.Unlock()

	g := p.gate(pairID)
	if p.ignoreCancel {
		<-g
	} else {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	id := partnerOf(pairID, selfID)
	return &models.PublicIdentity{ID: id, PublicKey: "pk-" + id}, nil
}

func (p *gatedPairing) IssueInvite(context.Context, string, string) (*models.InviteCode, error) {
	return nil, errors.New("not used")
}

func (p *gatedPairing) AcceptInvite(context.Context, string, string) (*pairing.AcceptResult, error) {
	return nil, errors.New("not used")
}

func (p *gatedPairing) Breakup(context.Context, string, string) error {
	return errors.New("not used")
}

type recordingSecrets struct {
	mu       sync.Mutex
	evicted  []string
	evictAll int
}

func (s *recordingSecrets) GetOrDerive(_ context.Context, pairID, partnerPublicKey string) ([]byte, error) {
	return []byte(pairID + "|" + partnerPublicKey), nil
}

func (s *recordingSecrets) Evict(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = append(s.evicted, pairID)
}

func (s *recordingSecrets) EvictAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictAll++
}

func (s *recordingSecrets) evictions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.evicted...)
}

type memoryCache struct {
	mu      sync.Mutex
	current *models.Identity
	saves   int
	cleared bool
}

func (c *memoryCache) Load(context.Context) (*models.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, nil
	}
	return c.current.Clone(), nil
}

func (c *memoryCache) Save(_ context.Context, identity *models.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = identity.Clone()
	c.saves++
	return nil
}

func (c *memoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.cleared = true
	return nil
}

func connected(id, pairID string) *models.Identity {
	return &models.Identity{ID: id, PublicKey: "pk-" + id, PairID: &pairID, ConnectionStatus: models.StatusConnected}
}

func unpaired(id string, status models.ConnectionStatus) *models.Identity {
	return &models.Identity{ID: id, PublicKey: "pk-" + id, ConnectionStatus: status}
}

type unitFixture struct {
	feed    *feedIdentities
	pairing *gatedPairing
	secrets *recordingSecrets
	cache   *memoryCache
	m       *Machine
}

func newUnitFixture(t *testing.T) *unitFixture {
	t.Helper()
	f := &unitFixture{
		feed:    &feedIdentities{},
		pairing: newGatedPairing(),
		secrets: &recordingSecrets{},
		cache:   &memoryCache{},
	}
	f.m = NewMachine(f.feed, f.pairing, f.secrets, f.cache, nil)
	return f
}

func (f *unitFixture) login(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.m.Login(context.Background(), unpaired(id, models.StatusUnpaired)))
}

func TestLogin_SubscribesOncePerSession(t *testing.T) {
	f := newUnitFixture(t)
	ctx := context.Background()

	f.login(t, "a")
	f.login(t, "a")
	assert.Equal(t, 1, f.feed.watches)
	assert.Equal(t, "a", f.m.Self())
	assert.True(t, f.m.State().Loading, "loading until the first snapshot")

	err := f.m.Login(ctx, unpaired("b", models.StatusUnpaired))
	assert.ErrorIs(t, err, ErrSessionActive)

	f.feed.push(unpaired("a", models.StatusUnpaired), 1)
	s := f.m.State()
	assert.False(t, s.Loading)
	assert.Equal(t, models.StatusUnpaired, s.ConnectionStatus)

	require.NoError(t, f.m.Logout(ctx))
	f.login(t, "a")
	assert.Equal(t, 2, f.feed.watches, "a new session subscribes again")
}

func TestLogin_WatchFailure(t *testing.T) {
	f := newUnitFixture(t)
	f.feed.watchErr = common.ErrUnavailable

	err := f.m.Login(context.Background(), unpaired("a", models.StatusUnpaired))
	require.ErrorIs(t, err, common.ErrUnavailable)
	assert.Equal(t, "", f.m.Self())
	assert.Equal(t, State{}, f.m.State())
}

func TestLogin_OfflineBootstrapFromCache(t *testing.T) {
	f := newUnitFixture(t)
	f.cache.current = connected("a", "a_b")

	f.login(t, "a")

	s := f.m.State()
	assert.Equal(t, models.StatusConnected, s.ConnectionStatus)
	assert.Equal(t, "a_b", s.PairID)
	assert.True(t, s.Loading)
	assert.Equal(t, 0, f.cache.saves, "cached snapshot is not written back")

	close(f.pairing.gate("a_b"))
	require.Eventually(t, func() bool { return f.m.State().Partner != nil }, waitFor, tick)

	f.feed.push(unpaired("a", models.StatusBroken), 1)
	s = f.m.State()
	assert.Equal(t, models.StatusBroken, s.ConnectionStatus)
	assert.Nil(t, s.Partner)
	assert.False(t, s.Loading)
	assert.Equal(t, 1, f.cache.saves)
	assert.Equal(t, models.StatusBroken, f.cache.current.ConnectionStatus)
}

func TestLogin_CacheOfAnotherIdentityIgnored(t *testing.T) {
	f := newUnitFixture(t)
	f.cache.current = connected("z", "y_z")

	f.login(t, "a")
	assert.Equal(t, "", f.m.State().PairID)
}

func TestApply_DiscardsOlderSnapshots(t *testing.T) {
	f := newUnitFixture(t)
	f.login(t, "a")

	f.feed.push(unpaired("a", models.StatusPending), 5)
	f.feed.push(unpaired("a", models.StatusUnpaired), 3)
	assert.Equal(t, models.StatusPending, f.m.State().ConnectionStatus)

	f.feed.push(unpaired("a", models.StatusUnpaired), 6)
	assert.Equal(t, models.StatusUnpaired, f.m.State().ConnectionStatus)
}

func TestPartnerLoad_SameTargetIsNoOp(t *testing.T) {
	f := newUnitFixture(t)
	f.login(t, "a")

	f.feed.push(connected("a", "a_b"), 1)
	require.Eventually(t, func() bool { return f.pairing.callCount() == 1 }, waitFor, tick)
	f.feed.push(connected("a", "a_b"), 2)
	assert.Never(t, func() bool { return f.pairing.callCount() > 1 }, 50*time.Millisecond, tick)
	assert.True(t, f.m.State().Loading)

	close(f.pairing.gate("a_b"))
	require.Eventually(t, func() bool { return f.m.State().Partner != nil }, waitFor, tick)
	s := f.m.State()
	assert.Equal(t, "b", s.Partner.ID)
	assert.False(t, s.Loading)
	assert.True(t, s.Connected())

	f.feed.push(connected("a", "a_b"), 3)
	assert.Never(t, func() bool { return f.pairing.callCount() > 1 }, 50*time.Millisecond, tick)
}

func TestPartnerLoad_SupersededCompletionDropped(t *testing.T) {
	f := newUnitFixture(t)
	f.pairing.ignoreCancel = true
	f.login(t, "a")

	f.feed.push(connected("a", "a_b"), 1)
	require.Eventually(t, func() bool { return f.pairing.callCount() == 1 }, waitFor, tick)

	f.feed.push(connected("a", "a_c"), 2)
	require.Eventually(t, func() bool { return f.pairing.callCount() == 2 }, waitFor, tick)
	assert.Equal(t, []string{"a_b"}, f.secrets.evictions(), "leaving a pair evicts its secret")

	close(f.pairing.gate("a_b"))
	assert.Never(t, func() bool { return f.m.State().Partner != nil }, 50*time.Millisecond, tick)

	close(f.pairing.gate("a_c"))
	require.Eventually(t, func() bool {
		p := f.m.State().Partner
		return p != nil && p.ID == "c"
	}, waitFor, tick)
}

func TestLeavingConnected_DropsPartnerAndSecret(t *testing.T) {
	f := newUnitFixture(t)
	f.login(t, "a")
	close(f.pairing.gate("a_b"))

	f.feed.push(connected("a", "a_b"), 1)
	require.Eventually(t, func() bool { return f.m.State().Connected() }, waitFor, tick)

	pairID, secret, err := f.m.SharedSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a_b", pairID)
	assert.Equal(t, []byte("a_b|pk-b"), secret)

	f.feed.push(unpaired("a", models.StatusBroken), 2)
	s := f.m.State()
	assert.Nil(t, s.Partner)
	assert.Equal(t, "", s.PairID)
	assert.Equal(t, []string{"a_b"}, f.secrets.evictions())

	_, _, err = f.m.SharedSecret(context.Background())
	assert.ErrorIs(t, err, common.ErrNotConnected)
}

func TestIdentityDeleted(t *testing.T) {
	f := newUnitFixture(t)
	f.login(t, "a")
	close(f.pairing.gate("a_b"))
	f.feed.push(connected("a", "a_b"), 1)
	require.Eventually(t, func() bool { return f.m.State().Connected() }, waitFor, tick)

	f.feed.push(nil, 0)
	s := f.m.State()
	assert.Equal(t, models.StatusUnpaired, s.ConnectionStatus)
	assert.Nil(t, s.Partner)
	assert.Contains(t, f.secrets.evictions(), "a_b")
}

func TestSharedSecret_WaitsForPartnerLoad(t *testing.T) {
	f := newUnitFixture(t)
	ctx := context.Background()

	_, _, err := f.m.SharedSecret(ctx)
	assert.ErrorIs(t, err, common.ErrNotLoggedIn)

	f.login(t, "a")
	f.feed.push(unpaired("a", models.StatusUnpaired), 1)
	_, _, err = f.m.SharedSecret(ctx)
	assert.ErrorIs(t, err, common.ErrNotConnected)

	f.feed.push(connected("a", "a_b"), 2)

	type result struct {
		pairID string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		pairID, _, err := f.m.SharedSecret(ctx)
		done <- result{pairID, err}
	}()

	select {
	case <-done:
		t.Fatal("returned before the partner was loaded")
	case <-time.After(30 * time.Millisecond):
	}

	close(f.pairing.gate("a_b"))
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "a_b", r.pairID)
	case <-time.After(waitFor):
		t.Fatal("SharedSecret did not return")
	}
}

func TestSharedSecret_ContextCancelled(t *testing.T) {
	f := newUnitFixture(t)
	f.login(t, "a")
	f.feed.push(connected("a", "a_b"), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := f.m.SharedSecret(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.pairing.gate("a_b"))
}

func TestLogout_TearsDown(t *testing.T) {
	f := newUnitFixture(t)
	ctx := context.Background()
	f.login(t, "a")
	f.feed.push(connected("a", "a_b"), 1)
	require.Eventually(t, func() bool { return f.pairing.callCount() == 1 }, waitFor, tick)

	require.NoError(t, f.m.Logout(ctx))
	assert.Equal(t, 1, f.feed.unsubscribed)
	assert.Equal(t, 1, f.secrets.evictAll)
	assert.True(t, f.cache.cleared)
	assert.Equal(t, State{}, f.m.State())
	assert.Equal(t, "", f.m.Self())

	f.feed.push(connected("a", "a_b"), 2)
	assert.Equal(t, State{}, f.m.State(), "snapshots of a closed session are ignored")

	require.NoError(t, f.m.Logout(ctx), "second logout is a no-op")
	assert.Equal(t, 1, f.secrets.evictAll)

	_, err := f.m.GenerateInvite(ctx)
	assert.ErrorIs(t, err, common.ErrNotLoggedIn)
	assert.ErrorIs(t, f.m.Breakup(ctx), common.ErrNotLoggedIn)
}

func TestClose_KeepsCachedIdentity(t *testing.T) {
	f := newUnitFixture(t)
	f.login(t, "a")
	f.feed.push(unpaired("a", models.StatusPending), 1)

	f.m.Close()
	assert.Equal(t, 1, f.feed.unsubscribed)
	assert.Equal(t, 1, f.secrets.evictAll)
	assert.False(t, f.cache.cleared)
	assert.Equal(t, State{}, f.m.State())

	f.m.Close()
	assert.Equal(t, 1, f.secrets.evictAll, "second close is a no-op")
}

func TestWatch(t *testing.T) {
	f := newUnitFixture(t)

	var (
		mu   sync.Mutex
		seen []State
	)
	cancel := f.m.Watch(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	f.login(t, "a")
	f.feed.push(unpaired("a", models.StatusPending), 1)
	cancel()
	f.feed.push(unpaired("a", models.StatusUnpaired), 2)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 3)
	assert.Equal(t, State{}, seen[0], "current state delivered on Watch")
	assert.Equal(t, models.StatusPending, seen[len(seen)-1].ConnectionStatus)
}

func TestBreakup_RequiresPair(t *testing.T) {
	f := newUnitFixture(t)
	f.login(t, "a")
	f.feed.push(unpaired("a", models.StatusPending), 1)
	assert.ErrorIs(t, f.m.Breakup(context.Background()), common.ErrNotConnected)
}
