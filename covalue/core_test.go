package covalue_test

import (
	"math/rand"
	"testing"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writer struct {
	agent   *security.Agent
	account defn.AccountID
	session defn.SessionID
	next    uint64
}

func newWriter(t *testing.T, p security.Provider) *writer {
	agent, err := security.NewAgent(p)
	require.NoError(t, err)
	account := covalue.AccountIDForSigner(p, agent.Signer())
	return &writer{agent: agent, account: account, session: defn.NewSessionID(account)}
}

func (w *writer) tx(t *testing.T, id defn.ValueID, madeAt int64, changes ...covalue.Change) *covalue.Transaction {
	tx, err := covalue.NewTransaction(w.agent, id, w.session, w.next, madeAt, changes)
	require.NoError(t, err)
	w.next++
	return tx
}

func newMap(p security.Provider, owner defn.ValueID) *covalue.Core {
	return covalue.NewCore(p, &covalue.Header{
		Kind:       covalue.KindMap,
		Owner:      owner,
		Uniqueness: defn.NewUniqueness(),
	})
}

func TestValueID(t *testing.T) {
	p := security.NewProvider()
	h := &covalue.Header{Kind: covalue.KindMap, Owner: "co_zz", Uniqueness: "u", CreatedAt: -5}
	id := h.ID(p)
	assert.True(t, id.IsValid())
	assert.Len(t, string(id), len(defn.ValueIDPrefix)+32)

	decoded, err := covalue.DecodeHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
	assert.Equal(t, id, decoded.ID(p))

	other := *h
	other.Uniqueness = "v"
	assert.NotEqual(t, id, other.ID(p))

	_, err = covalue.DecodeHeader([]byte{0x08, 0x09})
	assert.True(t, errors.Is(err, covalue.ErrMalformed))
}

func TestTransactionEncoding(t *testing.T) {
	p := security.NewProvider()
	w := newWriter(t, p)
	c := newMap(p, w.account)
	tx := w.tx(t, c.ID(), 1000, covalue.SetChange("a", []byte("1")), covalue.DelChange("b"))

	decoded, err := covalue.DecodeTransaction(tx.Encode())
	require.NoError(t, err)
	assert.Equal(t, tx, decoded)
	require.NoError(t, decoded.Verify(p, c.ID()))
	assert.True(t, errors.Is(decoded.Verify(p, "co_other"), covalue.ErrBadSignature))
}

func TestAppend(t *testing.T) {
	p := security.NewProvider()
	alice := newWriter(t, p)
	bob := newWriter(t, p)
	c := newMap(p, alice.account)

	changed, err := c.Append(alice.account, alice.tx(t, c.ID(), 10, covalue.SetChange("k", []byte("v"))))
	require.NoError(t, err)
	assert.True(t, changed)

	// Bob cannot append to Alice's session.
	_, err = c.Append(bob.account, alice.tx(t, c.ID(), 11, covalue.SetChange("k", []byte("w"))))
	assert.True(t, errors.Is(err, covalue.ErrInvalidSession))
	alice.next--

	// Gap in the session.
	alice.next = 5
	_, err = c.Append(alice.account, alice.tx(t, c.ID(), 12, covalue.SetChange("k", []byte("w"))))
	assert.True(t, errors.Is(err, covalue.ErrOutOfOrder))
	alice.next = 1

	// Signed by someone who does not own the session.
	forged, err := covalue.NewTransaction(bob.agent, c.ID(), alice.session, 1, 13, []covalue.Change{covalue.SetChange("k", []byte("x"))})
	require.NoError(t, err)
	_, err = c.Append(alice.account, forged)
	assert.True(t, errors.Is(err, covalue.ErrBadSignature))

	// Tampered changes.
	tampered := alice.tx(t, c.ID(), 14, covalue.SetChange("k", []byte("y")))
	tampered.Changes[0].Value = []byte("z")
	_, err = c.Append(alice.account, tampered)
	assert.True(t, errors.Is(err, covalue.ErrBadSignature))
	alice.next--

	// Deleting a missing key leaves the state unchanged.
	changed, err = c.Append(alice.account, alice.tx(t, c.ID(), 15, covalue.DelChange("missing")))
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, uint64(2), c.KnownState().Sessions[alice.session])
	v, ok := c.State().(*covalue.MapState).GetString("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMergeDuplicatesAndGaps(t *testing.T) {
	p := security.NewProvider()
	w := newWriter(t, p)
	c := newMap(p, w.account)

	tx0 := w.tx(t, c.ID(), 1, covalue.SetChange("a", []byte("0")))
	tx1 := w.tx(t, c.ID(), 2, covalue.SetChange("a", []byte("1")))
	tx2 := w.tx(t, c.ID(), 3, covalue.SetChange("a", []byte("2")))

	res := c.Merge([]*covalue.Transaction{tx2})
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 1, res.Buffered)
	assert.False(t, res.Changed)
	assert.Empty(t, c.KnownState().Sessions)

	res = c.Merge([]*covalue.Transaction{tx2, tx0})
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Buffered)

	res = c.Merge([]*covalue.Transaction{tx1})
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 0, res.Buffered)
	assert.True(t, res.Changed)
	assert.Equal(t, 0, c.Buffered())

	res = c.Merge([]*covalue.Transaction{tx0, tx1, tx2})
	assert.Equal(t, 3, res.Duplicates)
	assert.False(t, res.Changed)

	v, _ := c.State().(*covalue.MapState).GetString("a")
	assert.Equal(t, "2", v)
}

func TestAppendFlushesBufferedTransactions(t *testing.T) {
	p := security.NewProvider()
	w := newWriter(t, p)
	c := newMap(p, w.account)

	tx0 := w.tx(t, c.ID(), 1, covalue.SetChange("a", []byte("0")))
	tx1 := w.tx(t, c.ID(), 2, covalue.SetChange("b", []byte("1")))
	tx2 := w.tx(t, c.ID(), 3, covalue.SetChange("a", []byte("2")))

	res := c.Merge([]*covalue.Transaction{tx1, tx2})
	assert.Equal(t, 2, res.Buffered)

	changed, err := c.Append(w.account, tx0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, c.Buffered())
	assert.Equal(t, uint64(3), c.SessionLen(w.session))
	assert.Len(t, c.Entries(), 3)

	state := c.State().(*covalue.MapState)
	v, _ := state.GetString("a")
	assert.Equal(t, "2", v)
	v, _ = state.GetString("b")
	assert.Equal(t, "1", v)

	next := w.tx(t, c.ID(), 4, covalue.SetChange("c", []byte("3")))
	_, err = c.Append(w.account, next)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), c.SessionLen(w.session))
}

func TestMergeRejectsIndividually(t *testing.T) {
	p := security.NewProvider()
	w := newWriter(t, p)
	c := newMap(p, w.account)

	good := w.tx(t, c.ID(), 1, covalue.SetChange("a", []byte("ok")))
	bad := w.tx(t, c.ID(), 2, covalue.SetChange("b", []byte("ok")))
	bad.Signature[0] ^= 0xff

	res := c.Merge([]*covalue.Transaction{bad, good})
	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Rejected, 1)
	assert.True(t, errors.Is(res.Rejected[0], covalue.ErrBadSignature))
	assert.Equal(t, []string{"a"}, c.State().(*covalue.MapState).Keys())
}

func TestConvergenceUnderShuffle(t *testing.T) {
	p := security.NewProvider()
	writers := []*writer{newWriter(t, p), newWriter(t, p), newWriter(t, p)}
	header := &covalue.Header{Kind: covalue.KindList, Owner: writers[0].account, Uniqueness: "list"}
	id := header.ID(p)

	var all []*covalue.Transaction
	for round := 0; round < 4; round++ {
		for i, w := range writers {
			// Clocks are skewed between writers; the third goes backwards.
			madeAt := int64(100*round + 7*i)
			if i == 2 {
				madeAt = int64(500 - 50*round)
			}
			all = append(all, w.tx(t, id, madeAt,
				covalue.InsChange(covalue.ListStart, []byte{byte('a' + i), byte('0' + round)})))
		}
	}
	first := all[0]
	all = append(all, writers[1].tx(t, id, 1000, covalue.RmChange(covalue.ItemID(first.Session, first.Index, 0))))

	reference := covalue.NewCore(p, header)
	reference.Merge(all)
	want := reference.State()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]*covalue.Transaction(nil), all...)
		shuffled = append(shuffled, all[:i%len(all)]...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		replica := covalue.NewCore(p, header)
		for len(shuffled) > 0 {
			n := 1 + rng.Intn(len(shuffled))
			replica.Merge(shuffled[:n])
			shuffled = shuffled[n:]
		}
		assert.Equal(t, want, replica.State())
		assert.Equal(t, reference.KnownState(), replica.KnownState())
	}
	assert.Equal(t, len(writers)*4-1, want.(*covalue.ListState).Len())
}

func TestEffectiveTimeClamp(t *testing.T) {
	p := security.NewProvider()
	w := newWriter(t, p)
	c := newMap(p, w.account)

	c.Merge([]*covalue.Transaction{
		w.tx(t, c.ID(), 100, covalue.SetChange("k", []byte("first"))),
		w.tx(t, c.ID(), 50, covalue.SetChange("k", []byte("second"))),
	})
	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(100), entries[1].At)
	v, _ := c.State().(*covalue.MapState).GetString("k")
	assert.Equal(t, "second", v)
}

func TestContentSince(t *testing.T) {
	p := security.NewProvider()
	alice := newWriter(t, p)
	bob := newWriter(t, p)
	c := newMap(p, alice.account)

	c.Merge([]*covalue.Transaction{
		alice.tx(t, c.ID(), 1, covalue.SetChange("a", []byte("1"))),
		alice.tx(t, c.ID(), 2, covalue.SetChange("a", []byte("2"))),
		bob.tx(t, c.ID(), 3, covalue.SetChange("b", []byte("1"))),
	})

	full := c.ContentSince(nil)
	require.NotNil(t, full)
	assert.Equal(t, c.Header(), full.Header)
	assert.Len(t, full.Transactions(), 3)

	assert.Nil(t, c.ContentSince(c.KnownState()))

	partial := c.ContentSince(&covalue.KnownState{ID: c.ID(), Header: true,
		Sessions: map[defn.SessionID]uint64{alice.session: 1}})
	require.NotNil(t, partial)
	assert.Nil(t, partial.Header)
	assert.Len(t, partial.Sessions[alice.session], 1)
	assert.Equal(t, uint64(1), partial.Sessions[alice.session][0].Index)
	assert.Len(t, partial.Sessions[bob.session], 1)

	// Bob's transactions are held back; Alice's are delivered.
	filtered := c.ContentSinceFiltered(&covalue.KnownState{ID: c.ID(), Header: true}, func(e covalue.Entry) bool {
		return e.Tx.Author() == alice.account
	})
	require.NotNil(t, filtered)
	assert.Len(t, filtered.Sessions, 1)
	assert.Len(t, filtered.Sessions[alice.session], 2)

	// Reapplying the content to a fresh replica reproduces the state.
	replica := covalue.NewCore(p, full.Header)
	replica.Merge(full.Transactions())
	assert.Equal(t, c.State(), replica.State())
	assert.True(t, replica.KnownState().Covers(c.KnownState()))
}

func TestView(t *testing.T) {
	p := security.NewProvider()
	alice := newWriter(t, p)
	bob := newWriter(t, p)
	c := newMap(p, alice.account)
	c.Merge([]*covalue.Transaction{
		alice.tx(t, c.ID(), 1, covalue.SetChange("a", []byte("1"))),
		bob.tx(t, c.ID(), 2, covalue.SetChange("a", []byte("2"))),
	})

	v, _ := c.State().(*covalue.MapState).GetString("a")
	assert.Equal(t, "2", v)

	view := c.View(func(e covalue.Entry) bool { return e.Tx.Author() == alice.account }).(*covalue.MapState)
	v, _ = view.GetString("a")
	assert.Equal(t, "1", v)
	e, ok := view.Entry("a")
	assert.True(t, ok)
	assert.Equal(t, alice.account, e.By)
}
