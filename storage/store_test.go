package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/face"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValue(t *testing.T, p security.Provider, n int) *covalue.Core {
	agent, err := security.NewAgent(p)
	require.NoError(t, err)
	account := covalue.AccountIDForSigner(p, agent.Signer())
	session := defn.NewSessionID(account)
	c := covalue.NewCore(p, &covalue.Header{Kind: covalue.KindMap, Owner: account, Uniqueness: defn.NewUniqueness()})
	for i := 0; i < n; i++ {
		tx, err := covalue.NewTransaction(agent, c.ID(), session, uint64(i), int64(i), []covalue.Change{
			covalue.SetChange("k", []byte{byte(i)}),
		})
		require.NoError(t, err)
		_, err = c.Append(account, tx)
		require.NoError(t, err)
	}
	return c
}

func testStore(t *testing.T, p security.Provider, s Store) {
	c := sampleValue(t, p, 4)
	txs := c.Transactions()

	header, got, err := s.Get(c.ID())
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Empty(t, got)

	assert.Error(t, s.Put(c.ID(), nil, txs))
	require.NoError(t, s.Put(c.ID(), c.Header(), txs[:2]))
	require.NoError(t, s.Put(c.ID(), nil, txs[1:]))
	require.NoError(t, s.Put(c.ID(), c.Header(), txs))

	header, got, err = s.Get(c.ID())
	require.NoError(t, err)
	assert.Equal(t, c.Header(), header)
	assert.Equal(t, txs, got)

	restored, err := Load(s, p, c.ID())
	require.NoError(t, err)
	assert.Equal(t, c.State(), restored.State())
	assert.Equal(t, c.KnownState(), restored.KnownState())

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []defn.ValueID{c.ID()}, ids)
	require.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	testStore(t, security.NewProvider(), NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	p := security.NewProvider()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "values.db"), p, nil)
	require.NoError(t, err)
	testStore(t, p, s)
}

func TestSqliteStore(t *testing.T) {
	p := security.NewProvider()
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "values.sqlite"), p, nil)
	require.NoError(t, err)
	testStore(t, p, s)
}

func TestEncryptedStores(t *testing.T) {
	p := security.NewProvider()
	key, err := security.ParseKeySecret("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	dir := t.TempDir()

	bs, err := NewBoltStore(filepath.Join(dir, "sealed.db"), p, key)
	require.NoError(t, err)
	testStore(t, p, bs)

	ss, err := NewSqliteStore(filepath.Join(dir, "sealed.sqlite"), p, key)
	require.NoError(t, err)
	testStore(t, p, ss)

	// Reading with the wrong key fails instead of returning garbage.
	c := sampleValue(t, p, 1)
	sealed, err := NewSqliteStore(filepath.Join(dir, "other.sqlite"), p, key)
	require.NoError(t, err)
	require.NoError(t, sealed.Put(c.ID(), c.Header(), c.Transactions()))
	sealed.key = &security.KeySecret{}
	_, _, err = sealed.Get(c.ID())
	assert.ErrorIs(t, err, security.ErrDecrypt)
	require.NoError(t, sealed.Close())
}

func TestPeerTransport(t *testing.T) {
	p := security.NewProvider()
	store := NewMemoryStore()
	tr := NewPeerTransport("memory", store, p, 16)
	defer tr.Close()
	c := sampleValue(t, p, 3)
	handle := func(m wire.Message) []wire.Message {
		replies, err := tr.handle(m)
		require.NoError(t, err)
		return replies
	}

	replies := handle(&wire.Load{Known: &covalue.KnownState{ID: c.ID()}})
	require.Len(t, replies, 1)
	assert.False(t, replies[0].(*wire.Known).Known.Header)

	// Transactions without a header cannot be stored.
	partial := c.ContentSince(nil)
	partial.Header = nil
	replies = handle(&wire.Content{Content: partial})
	require.Len(t, replies, 1)
	assert.False(t, replies[0].(*wire.Known).Known.Header)

	replies = handle(&wire.Content{Content: c.ContentSince(nil)})
	require.Len(t, replies, 1)
	assert.Equal(t, c.KnownState(), replies[0].(*wire.Known).Known)

	replies = handle(&wire.Load{Known: &covalue.KnownState{ID: c.ID(), Header: true,
		Sessions: map[defn.SessionID]uint64{}}})
	require.Len(t, replies, 2)
	assert.Len(t, replies[0].(*wire.Content).Content.Transactions(), 3)
	assert.Equal(t, c.KnownState(), replies[1].(*wire.Known).Known)

	other := sampleValue(t, p, 1)
	replies = handle(&wire.ReconcileBatch{Batch: "b", Entries: []*covalue.KnownState{c.KnownState(), other.KnownState()}})
	require.Len(t, replies, 2)
	assert.True(t, replies[0].(*wire.Known).Known.Header)
	assert.False(t, replies[1].(*wire.Known).Known.Header)

	replies = handle(&wire.Hello{})
	require.Len(t, replies, 1)
	assert.True(t, replies[0].(*wire.Hello).IsTransient())

	require.NoError(t, tr.SendFrame(wire.Encode(&wire.Load{Known: &covalue.KnownState{ID: c.ID()}})))
	got := make(chan []byte, 4)
	go tr.RunReceive(func(frame []byte) { got <- frame })
	m, err := wire.Decode(<-got)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeContent, m.Type())
}

// flakyStore fails the first puts it receives.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) Put(id defn.ValueID, header *covalue.Header, txs []*covalue.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.Store.Put(id, header, txs)
}

type knownRecorder struct {
	known chan *covalue.KnownState
}

func (r *knownRecorder) HandleMessage(p *face.Peer, m wire.Message) {
	if k, ok := m.(*wire.Known); ok {
		r.known <- k.Known
	}
}

func (r *knownRecorder) PeerClosed(p *face.Peer) {}

func TestPeerTransportReportsStoreFailure(t *testing.T) {
	p := security.NewProvider()
	store := &flakyStore{Store: NewMemoryStore(), failures: 1}
	tr := NewPeerTransport("flaky", store, p, 16)
	defer tr.Close()
	c := sampleValue(t, p, 3)

	frame := wire.Encode(&wire.Content{Content: c.ContentSince(nil)})
	assert.Error(t, tr.SendFrame(frame))
	header, _, err := store.Get(c.ID())
	require.NoError(t, err)
	assert.Nil(t, header)
	require.NoError(t, tr.SendFrame(frame))
	loaded, err := Load(store, p, c.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, c.KnownState(), loaded.KnownState())
}

func TestStoragePeerRetriesFailedPut(t *testing.T) {
	p := security.NewProvider()
	store := &flakyStore{Store: NewMemoryStore(), failures: 2}
	tr := NewPeerTransport("flaky", store, p, 16)
	peer := face.NewPeer(defn.NewPeerID("storage"), defn.PeerStorage, tr)
	r := &knownRecorder{known: make(chan *covalue.KnownState, 4)}
	peer.Run(r)
	defer func() {
		peer.Close()
		peer.Wait()
	}()
	c := sampleValue(t, p, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := peer.Send(&wire.Content{Content: c.ContentSince(nil)})
	require.NoError(t, h.Wait(ctx))
	select {
	case known := <-r.known:
		assert.Equal(t, c.KnownState(), known)
	case <-ctx.Done():
		t.Fatal("no acknowledgment from the store")
	}
	assert.False(t, peer.HasQuit())

	store.mu.Lock()
	assert.Equal(t, 3, store.attempts)
	store.mu.Unlock()
	loaded, err := Load(store, p, c.ID())
	require.NoError(t, err)
	assert.Len(t, loaded.Transactions(), 3)
}
