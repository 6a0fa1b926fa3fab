package wire_test

import (
	"testing"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m wire.Message) wire.Message {
	decoded, err := wire.Decode(wire.Encode(m))
	require.NoError(t, err)
	require.Equal(t, m.Type(), decoded.Type())
	return decoded
}

func TestHello(t *testing.T) {
	p := security.NewProvider()
	agent, err := security.NewAgent(p)
	require.NoError(t, err)
	account := covalue.AccountIDForSigner(p, agent.Signer())

	hello, err := wire.NewHello(agent, account, defn.PeerClient, 1234)
	require.NoError(t, err)
	decoded := roundTrip(t, hello).(*wire.Hello)
	assert.Equal(t, hello, decoded)
	assert.NoError(t, decoded.Verify(p))
	assert.Equal(t, defn.PriorityHigh, decoded.Priority())

	decoded.Role = defn.PeerServer
	assert.True(t, errors.Is(decoded.Verify(p), wire.ErrBadHello))

	other, err := security.NewAgent(p)
	require.NoError(t, err)
	forged, err := wire.NewHello(other, account, defn.PeerClient, 1234)
	require.NoError(t, err)
	assert.True(t, errors.Is(forged.Verify(p), wire.ErrBadHello))

	transient, err := wire.NewHello(nil, "", defn.PeerStorage, 1)
	require.NoError(t, err)
	decoded = roundTrip(t, transient).(*wire.Hello)
	assert.True(t, decoded.IsTransient())
	assert.Equal(t, defn.PeerStorage, decoded.Role)
	assert.NoError(t, decoded.Verify(p))
}

func TestContentAndKnown(t *testing.T) {
	p := security.NewProvider()
	agent, err := security.NewAgent(p)
	require.NoError(t, err)
	account := covalue.AccountIDForSigner(p, agent.Signer())
	session := defn.NewSessionID(account)

	group := covalue.NewCore(p, &covalue.Header{Kind: covalue.KindGroup, CreatedBy: account, Uniqueness: "x"})
	for i := uint64(0); i < 3; i++ {
		tx, err := covalue.NewTransaction(agent, group.ID(), session, i, int64(i), []covalue.Change{
			covalue.GrantChange(defn.Everyone, defn.RoleReader),
		})
		require.NoError(t, err)
		_, err = group.Append(account, tx)
		require.NoError(t, err)
	}

	content := &wire.Content{Content: group.ContentSince(nil)}
	decoded := roundTrip(t, content).(*wire.Content)
	assert.Equal(t, content.Content, decoded.Content)
	assert.Equal(t, defn.PriorityHigh, decoded.Priority())

	replica := covalue.NewCore(p, decoded.Content.Header)
	res := replica.Merge(decoded.Content.Transactions())
	assert.Equal(t, 3, res.Applied)
	assert.Empty(t, res.Rejected)

	known := &wire.Known{Known: group.KnownState()}
	assert.Equal(t, known, roundTrip(t, known))

	notFound := &wire.Known{Known: &covalue.KnownState{ID: "co_abc", Sessions: map[defn.SessionID]uint64{}}}
	assert.Equal(t, notFound, roundTrip(t, notFound))

	load := &wire.Load{Known: &covalue.KnownState{ID: group.ID(), Header: true,
		Sessions: map[defn.SessionID]uint64{session: 0}}}
	assert.Equal(t, load, roundTrip(t, load))

	batch := &wire.ReconcileBatch{Batch: defn.NewBatchID(), Entries: []*covalue.KnownState{group.KnownState(), notFound.Known}}
	assert.Equal(t, batch, roundTrip(t, batch))
	assert.Equal(t, defn.PriorityLow, batch.Priority())
}

func TestDecodeErrors(t *testing.T) {
	_, err := wire.Decode([]byte{0x08, 0x63})
	assert.True(t, errors.Is(err, wire.ErrUnknownMessage))

	_, err = wire.Decode([]byte{0x08, 0x02, 0x12, 0x05, 0x0a})
	assert.Error(t, err)

	_, err = wire.Decode(wire.Encode(&wire.Known{Known: &covalue.KnownState{ID: "nope"}}))
	assert.Error(t, err)
}
