package covalue_test

import (
	"fmt"
	"testing"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOrder(t *testing.T) {
	p := security.NewProvider()
	alice := newWriter(t, p)
	bob := newWriter(t, p)
	carol := newWriter(t, p)
	c := covalue.NewCore(p, &covalue.Header{Kind: covalue.KindList, Owner: alice.account})

	a := alice.tx(t, c.ID(), 1, covalue.InsChange(covalue.ListStart, []byte("a")))
	b := bob.tx(t, c.ID(), 2, covalue.InsChange(covalue.ListStart, []byte("b")))
	aID := covalue.ItemID(a.Session, a.Index, 0)
	cTx := alice.tx(t, c.ID(), 10, covalue.InsChange(aID, []byte("c")))
	// Carol's clock is behind, so her insert is ordered before the item it refers to.
	x := carol.tx(t, c.ID(), 5, covalue.InsChange(covalue.ItemID(cTx.Session, cTx.Index, 0), []byte("x")))

	c.Merge([]*covalue.Transaction{x, cTx, b, a})
	list := c.State().(*covalue.ListState)
	assert.Equal(t, []string{"b", "a", "c", "x"}, list.Strings())

	c.Merge([]*covalue.Transaction{bob.tx(t, c.ID(), 20, covalue.RmChange(aID))})
	list = c.State().(*covalue.ListState)
	assert.Equal(t, []string{"b", "c", "x"}, list.Strings())
	assert.Equal(t, 3, list.Len())
	assert.Len(t, list.ItemIDs(), 3)
}

func TestLongList(t *testing.T) {
	p := security.NewProvider()
	alice := newWriter(t, p)
	bob := newWriter(t, p)
	c := covalue.NewCore(p, &covalue.Header{Kind: covalue.KindList, Owner: alice.account})

	const n = 3000
	var txs []*covalue.Transaction
	var want, heads []string
	prev := covalue.ListStart
	for i := 0; i < n; i++ {
		v := fmt.Sprintf("a%d", i)
		tx := alice.tx(t, c.ID(), int64(2*i+1), covalue.InsChange(prev, []byte(v)))
		prev = covalue.ItemID(tx.Session, tx.Index, 0)
		txs = append(txs, tx)
		want = append(want, v)
		if i%500 == 0 {
			h := fmt.Sprintf("b%d", i)
			txs = append(txs, bob.tx(t, c.ID(), int64(2*i+2), covalue.InsChange(covalue.ListStart, []byte(h))))
			heads = append([]string{h}, heads...)
		}
	}

	res := c.Merge(txs)
	require.Empty(t, res.Rejected)
	list := c.State().(*covalue.ListState)
	assert.Equal(t, n+len(heads), list.Len())
	assert.Equal(t, append(heads, want...), list.Strings())
}

func TestStream(t *testing.T) {
	p := security.NewProvider()
	alice := newWriter(t, p)
	bob := newWriter(t, p)
	c := covalue.NewCore(p, &covalue.Header{Kind: covalue.KindStream, Owner: alice.account})

	c.Merge([]*covalue.Transaction{
		alice.tx(t, c.ID(), 1, covalue.PushChange([]byte("a1"))),
		bob.tx(t, c.ID(), 2, covalue.PushChange([]byte("b1"))),
		alice.tx(t, c.ID(), 3, covalue.PushChange([]byte("a2")), covalue.PushChange([]byte("a3"))),
	})
	s := c.State().(*covalue.StreamState)
	assert.Len(t, s.Sessions(), 2)
	assert.Len(t, s.Entries(alice.session), 3)
	latest, ok := s.Latest(alice.account)
	require.True(t, ok)
	assert.Equal(t, "a3", string(latest.Value))
	latest, ok = s.Latest(bob.account)
	require.True(t, ok)
	assert.Equal(t, "b1", string(latest.Value))
	assert.Len(t, s.Accounts(), 2)
}

func TestGroupMembership(t *testing.T) {
	p := security.NewProvider()
	admin := newWriter(t, p)
	bob := newWriter(t, p)
	carol := newWriter(t, p)
	header := &covalue.Header{Kind: covalue.KindGroup, CreatedBy: admin.account, Uniqueness: "g"}
	c := covalue.NewCore(p, header)
	parent := (&covalue.Header{Kind: covalue.KindGroup, CreatedBy: admin.account, Uniqueness: "p"}).ID(p)

	c.Merge([]*covalue.Transaction{
		admin.tx(t, c.ID(), 10, covalue.GrantChange(string(bob.account), defn.RoleWriter)),
		// Only admins may grant.
		bob.tx(t, c.ID(), 11, covalue.GrantChange(string(carol.account), defn.RoleAdmin)),
		// Everyone may only be reader or writer.
		admin.tx(t, c.ID(), 12, covalue.GrantChange(defn.Everyone, defn.RoleAdmin)),
		admin.tx(t, c.ID(), 13, covalue.GrantChange(defn.Everyone, defn.RoleReader)),
		admin.tx(t, c.ID(), 14, covalue.ExtendChange(parent)),
		// Anyone may leave.
		bob.tx(t, c.ID(), 20, covalue.GrantChange(string(bob.account), defn.RoleNone)),
	})

	g := c.State().(*covalue.GroupState)
	assert.Equal(t, admin.account, g.Creator())
	assert.Equal(t, defn.RoleAdmin, g.RoleOf(string(admin.account)))
	assert.Equal(t, defn.RoleNone, g.RoleOf(string(carol.account)))
	assert.Equal(t, defn.RoleReader, g.RoleOf(defn.Everyone))
	assert.Equal(t, defn.RoleNone, g.RoleOf(string(bob.account)))
	assert.Equal(t, defn.RoleWriter, g.RoleAt(string(bob.account), 15))
	assert.Equal(t, defn.RoleNone, g.RoleAt(string(bob.account), 9))
	assert.Equal(t, defn.RoleAdmin, g.RoleAt(string(admin.account), -1000))

	require.Len(t, g.Parents(), 1)
	assert.Equal(t, parent, g.Parents()[0].Parent)
	assert.Empty(t, g.ParentsAt(13))
	assert.Len(t, g.ParentsAt(14), 1)

	assert.Equal(t, []covalue.Member{
		{ID: string(admin.account), Role: defn.RoleAdmin},
		{ID: defn.Everyone, Role: defn.RoleReader},
	}, sortMembers(g.Members()))
	assert.Len(t, g.History(string(bob.account)), 2)
}

// sortMembers puts account members before the everyone pseudo-member.
func sortMembers(members []covalue.Member) []covalue.Member {
	var accounts, rest []covalue.Member
	for _, m := range members {
		if m.ID == defn.Everyone {
			rest = append(rest, m)
		} else {
			accounts = append(accounts, m)
		}
	}
	return append(accounts, rest...)
}
