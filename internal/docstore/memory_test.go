package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	docs []*Document
}

func (r *recorder) add(d *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, d)
}

func (r *recorder) snapshot() []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Document(nil), r.docs...)
}

func (r *recorder) len() int { return len(r.snapshot()) }

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get(ctx, "identities", "a")
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, s.Set(ctx, "identities", "a", Fields{"publicKey": "pk", "connectionStatus": "unpaired"}))
	d, err := s.Get(ctx, "identities", "a")
	require.NoError(t, err)
	assert.Equal(t, "pk", d.Fields["publicKey"])
	v1 := d.Version

	require.NoError(t, s.Update(ctx, "identities", "a", Fields{"connectionStatus": "pending"}))
	d, err = s.Get(ctx, "identities", "a")
	require.NoError(t, err)
	assert.Equal(t, "pending", d.Fields["connectionStatus"])
	assert.Equal(t, "pk", d.Fields["publicKey"], "update merges")
	assert.Greater(t, d.Version, v1)

	err = s.Update(ctx, "identities", "missing", Fields{"x": 1})
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, s.Delete(ctx, "identities", "a"))
	require.NoError(t, s.Delete(ctx, "identities", "a"), "delete is idempotent")
	_, err = s.Get(ctx, "identities", "a")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "c", "1", Fields{"v": "a"}))

	d, err := s.Get(ctx, "c", "1")
	require.NoError(t, err)
	d.Fields["v"] = "mutated"

	d, err = s.Get(ctx, "c", "1")
	require.NoError(t, err)
	assert.Equal(t, "a", d.Fields["v"])
}

func TestMemoryStore_Query(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "cards", "1", Fields{"pairId": "p", "isRead": false, "createdAt": int64(30)}))
	require.NoError(t, s.Set(ctx, "cards", "2", Fields{"pairId": "p", "isRead": true, "createdAt": int64(10)}))
	require.NoError(t, s.Set(ctx, "cards", "3", Fields{"pairId": "p", "isRead": false, "createdAt": int64(20)}))
	require.NoError(t, s.Set(ctx, "cards", "4", Fields{"pairId": "q", "isRead": false, "createdAt": int64(40)}))
	require.NoError(t, s.Set(ctx, "other", "5", Fields{"pairId": "p"}))

	docs, err := s.Query(ctx, "cards", Query{}.Where("pairId", "p").Where("isRead", false))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "1", docs[0].ID)
	assert.Equal(t, "3", docs[1].ID)

	docs, err = s.Query(ctx, "cards", Query{OrderBy: "createdAt", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "4", docs[0].ID)
	assert.Equal(t, "1", docs[1].ID)

	docs, err = s.Query(ctx, "cards", Query{OrderBy: "createdAt"}.Where("pairId", "p"))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"2", "3", "1"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

	docs, err = s.Query(ctx, "cards", Query{}.Where("pairId", "none"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "identities", "a", Fields{"connectionStatus": "unpaired"}))

	var rec recorder
	unsubscribe, err := s.Subscribe(ctx, "identities", "a", rec.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "unpaired", rec.snapshot()[0].Fields["connectionStatus"], "current state first")

	require.NoError(t, s.Update(ctx, "identities", "a", Fields{"connectionStatus": "pending"}))
	require.NoError(t, s.Update(ctx, "identities", "a", Fields{"connectionStatus": "connected"}))
	require.NoError(t, s.Set(ctx, "identities", "b", Fields{"connectionStatus": "connected"}))
	require.NoError(t, s.Delete(ctx, "identities", "a"))

	require.Eventually(t, func() bool { return rec.len() == 4 }, time.Second, 5*time.Millisecond)
	docs := rec.snapshot()
	assert.Equal(t, "pending", docs[1].Fields["connectionStatus"])
	assert.Equal(t, "connected", docs[2].Fields["connectionStatus"])
	assert.Nil(t, docs[3], "deletion is delivered as nil")
	assert.Less(t, docs[1].Version, docs[2].Version)

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Set(ctx, "identities", "a", Fields{"connectionStatus": "unpaired"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, rec.len())
	assert.False(t, s.hub.Watched("identities", "a"))
}

func TestMemoryStore_SubscribeMissingAndCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	var rec recorder
	_, err := s.Subscribe(ctx, "identities", "ghost", rec.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, rec.snapshot()[0])

	cancel()
	require.Eventually(t, func() bool { return !s.hub.Watched("identities", "ghost") }, time.Second, 5*time.Millisecond)

	_, err = s.Subscribe(ctx, "identities", "ghost", rec.add)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_WithTx(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "identities", "a", Fields{"status": "pending"}))
	require.NoError(t, s.Set(ctx, "invites", "CODE", Fields{"issuerId": "a"}))

	err := s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		require.NoError(t, tx.Set(ctx, "pairs", "a_b", Fields{"memberAId": "a"}))
		require.NoError(t, tx.Update(ctx, "identities", "a", Fields{"status": "connected"}))
		require.NoError(t, tx.Delete(ctx, "invites", "CODE"))

		d, err := tx.Get(ctx, "identities", "a")
		require.NoError(t, err)
		assert.Equal(t, "connected", d.Fields["status"], "tx reads its own writes")

		_, err = tx.Get(ctx, "invites", "CODE")
		assert.ErrorIs(t, err, common.ErrorNotFound)

		docs, err := tx.Query(ctx, "pairs", Query{})
		require.NoError(t, err)
		assert.Len(t, docs, 1)

		_, err = s.Get(ctx, "pairs", "a_b")
		assert.ErrorIs(t, err, common.ErrorNotFound, "not visible before commit")

		_, err = tx.Subscribe(ctx, "pairs", "a_b", func(*Document) {})
		assert.ErrorIs(t, err, ErrSubscribeInTx)
		return nil
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "pairs", "a_b")
	require.NoError(t, err)
	d, err := s.Get(ctx, "identities", "a")
	require.NoError(t, err)
	assert.Equal(t, "connected", d.Fields["status"])
	_, err = s.Get(ctx, "invites", "CODE")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoryStore_WithTxCommitOverwritesPlainWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "cards", "c1", Fields{"isRead": true}))

	err := s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		require.NoError(t, tx.Update(ctx, "cards", "c1", Fields{"isRead": false}))
		// not part of the transaction and not checked against it
		return s.Update(ctx, "cards", "c1", Fields{"readBy": "b"})
	})
	require.NoError(t, err)

	d, err := s.Get(ctx, "cards", "c1")
	require.NoError(t, err)
	assert.Equal(t, false, d.Fields["isRead"])
	assert.NotContains(t, d.Fields, "readBy")
}

func TestMemoryStore_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		require.NoError(t, tx.Set(ctx, "pairs", "a_b", Fields{"memberAId": "a"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "pairs", "a_b")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	err = s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.Update(ctx, "pairs", "missing", Fields{"x": 1})
	})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
