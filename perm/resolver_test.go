package perm_test

import (
	"testing"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/perm"
	"github.com/named-data/cosync/security"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type values map[defn.ValueID]*covalue.Core

func (v values) Lookup(id defn.ValueID) *covalue.Core {
	return v[id]
}

// hookedValues runs a hook the first time a value is looked up.
type hookedValues struct {
	values
	hooks map[defn.ValueID]func()
}

func (v *hookedValues) Lookup(id defn.ValueID) *covalue.Core {
	if hook := v.hooks[id]; hook != nil {
		delete(v.hooks, id)
		hook()
	}
	return v.values[id]
}

type account struct {
	agent   *security.Agent
	id      defn.AccountID
	session defn.SessionID
	next    map[defn.ValueID]uint64
}

type fixture struct {
	t        *testing.T
	p        security.Provider
	values   values
	resolver *perm.Resolver
	clock    int64
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, p: security.NewProvider(), values: values{}}
	return f
}

func (f *fixture) account(me bool) *account {
	agent, err := security.NewAgent(f.p)
	require.NoError(f.t, err)
	a := &account{agent: agent, next: map[defn.ValueID]uint64{}}
	c := covalue.NewCore(f.p, covalue.AccountHeader(agent.Signer()))
	a.id = c.ID()
	a.session = defn.NewSessionID(a.id)
	f.values[a.id] = c
	if me || f.resolver == nil {
		f.resolver = perm.NewResolver(a.id, f.values)
	}
	return a
}

func (f *fixture) group(creator *account) defn.ValueID {
	c := covalue.NewCore(f.p, &covalue.Header{Kind: covalue.KindGroup, CreatedBy: creator.id, Uniqueness: defn.NewUniqueness()})
	f.values[c.ID()] = c
	f.resolver.IndexGroup(c)
	return c.ID()
}

func (f *fixture) value(owner defn.ValueID) defn.ValueID {
	c := covalue.NewCore(f.p, &covalue.Header{Kind: covalue.KindMap, Owner: owner, Uniqueness: defn.NewUniqueness()})
	f.values[c.ID()] = c
	return c.ID()
}

func (f *fixture) write(by *account, id defn.ValueID, changes ...covalue.Change) covalue.Entry {
	f.clock += 10
	tx, err := covalue.NewTransaction(by.agent, id, by.session, by.next[id], f.clock, changes)
	require.NoError(f.t, err)
	by.next[id]++
	c := f.values[id]
	_, err = c.Append(by.id, tx)
	require.NoError(f.t, err)
	if c.Kind() == covalue.KindGroup {
		f.resolver.IndexGroup(c)
	}
	entries := c.Entries()
	for _, e := range entries {
		if e.Tx == tx {
			return e
		}
	}
	f.t.Fatal("transaction not found")
	return covalue.Entry{}
}

func TestAccountRoles(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	other := f.account(false)

	assert.Equal(t, defn.RoleAdmin, f.resolver.RoleOf(string(me.id), me.id))
	assert.Equal(t, defn.RoleAdmin, f.resolver.RoleOf(defn.Me, me.id))
	assert.Equal(t, defn.RoleNone, f.resolver.RoleOf(string(other.id), me.id))

	owned := f.value(me.id)
	assert.True(t, f.resolver.CanAdmin(defn.Me, owned))
	assert.False(t, f.resolver.CanRead(string(other.id), owned))
	assert.Equal(t, defn.RoleNone, f.resolver.RoleOf(defn.Me, "co_unknown"))
}

func TestCheckOwner(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	group := f.group(me)
	list := covalue.NewCore(f.p, &covalue.Header{Kind: covalue.KindList, Owner: group})
	f.values[list.ID()] = list

	assert.NoError(t, f.resolver.CheckOwner(covalue.KindMap, covalue.MetaProfile, group))
	err := f.resolver.CheckOwner(covalue.KindMap, covalue.MetaProfile, me.id)
	assert.True(t, errors.Is(err, perm.ErrInvalidOwner))
	assert.Contains(t, err.Error(), "profiles should be owned by a group")

	assert.NoError(t, f.resolver.CheckOwner(covalue.KindMap, "", me.id))
	assert.NoError(t, f.resolver.CheckOwner(covalue.KindStream, "", group))
	assert.True(t, errors.Is(f.resolver.CheckOwner(covalue.KindMap, "", list.ID()), perm.ErrInvalidOwner))
	assert.True(t, errors.Is(f.resolver.CheckOwner(covalue.KindMap, "", "co_missing"), perm.ErrInvalidOwner))
	assert.True(t, errors.Is(f.resolver.CheckOwner(covalue.KindGroup, "", group), perm.ErrInvalidOwner))
}

func TestGrantValidation(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	bob := f.account(false)
	group := f.group(me)

	assert.True(t, errors.Is(f.resolver.ValidateGrant(me.id, group, defn.Everyone, defn.RoleAdmin), perm.ErrInvalidRole))
	assert.True(t, errors.Is(f.resolver.ValidateGrant(me.id, group, defn.Everyone, defn.RoleWriteOnly), perm.ErrInvalidRole))
	assert.True(t, errors.Is(f.resolver.ValidateGrant(me.id, group, string(bob.id), defn.Role("owner")), perm.ErrInvalidRole))
	require.NoError(t, f.resolver.ValidateGrant(me.id, group, defn.Everyone, defn.RoleReader))
	require.NoError(t, f.resolver.ValidateGrant(me.id, group, string(bob.id), defn.RoleWriter))

	f.write(me, group, covalue.GrantChange(string(bob.id), defn.RoleWriter))
	assert.True(t, errors.Is(f.resolver.ValidateGrant(bob.id, group, defn.Everyone, defn.RoleReader), perm.ErrPermissionDenied))
	assert.NoError(t, f.resolver.ValidateGrant(bob.id, group, string(bob.id), defn.RoleNone))
	assert.NoError(t, f.resolver.ValidateGrant(me.id, group, defn.Me, defn.RoleNone))
}

func TestEveryone(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	bob := f.account(false)
	group := f.group(me)
	value := f.value(group)

	assert.False(t, f.resolver.CanRead(string(bob.id), value))
	f.write(me, group, covalue.GrantChange(defn.Everyone, defn.RoleReader))
	assert.Equal(t, defn.RoleReader, f.resolver.RoleOf(string(bob.id), value))
	assert.Equal(t, defn.RoleReader, f.resolver.RoleOf(defn.Everyone, value))
	assert.False(t, f.resolver.CanWrite(string(bob.id), value))

	// A direct grant wins over everyone.
	f.write(me, group, covalue.GrantChange(string(bob.id), defn.RoleWriter))
	assert.Equal(t, defn.RoleWriter, f.resolver.RoleOf(string(bob.id), value))
}

func TestInheritance(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	bob := f.account(false)
	carol := f.account(false)

	grand := f.group(me)
	parent := f.group(me)
	child := f.group(me)
	value := f.value(child)

	require.NoError(t, f.resolver.ValidateExtend(me.id, child, parent))
	f.write(me, child, covalue.ExtendChange(parent))
	f.write(me, parent, covalue.ExtendChange(grand))

	f.write(me, grand, covalue.GrantChange(string(bob.id), defn.RoleReader))
	assert.Equal(t, defn.RoleReader, f.resolver.RoleOf(string(bob.id), value))

	// The nearest grant wins.
	f.write(me, parent, covalue.GrantChange(string(bob.id), defn.RoleWriter))
	assert.Equal(t, defn.RoleWriter, f.resolver.RoleOf(string(bob.id), value))
	f.write(me, child, covalue.GrantChange(string(bob.id), defn.RoleReader))
	assert.Equal(t, defn.RoleReader, f.resolver.RoleOf(string(bob.id), value))

	// Grants in an ancestor invalidate cached roles of descendants.
	assert.Equal(t, defn.RoleNone, f.resolver.RoleOf(string(carol.id), value))
	f.write(me, grand, covalue.GrantChange(string(carol.id), defn.RoleWriteOnly))
	assert.Equal(t, defn.RoleWriteOnly, f.resolver.RoleOf(string(carol.id), value))
	assert.True(t, f.resolver.CanWrite(string(carol.id), value))
	assert.False(t, f.resolver.CanRead(string(carol.id), value))

	// Ties at the same depth follow edge order.
	other := f.group(me)
	f.write(me, other, covalue.GrantChange(string(carol.id), defn.RoleAdmin))
	f.write(me, child, covalue.ExtendChange(other))
	assert.Equal(t, defn.RoleAdmin, f.resolver.RoleOf(string(carol.id), value))
	f.write(me, parent, covalue.GrantChange(string(carol.id), defn.RoleReader))
	assert.Equal(t, defn.RoleReader, f.resolver.RoleOf(string(carol.id), value))
}

func TestCycles(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	bob := f.account(false)
	a := f.group(me)
	b := f.group(me)

	f.write(me, a, covalue.ExtendChange(b))
	assert.True(t, errors.Is(f.resolver.ValidateExtend(me.id, b, a), perm.ErrCycle))
	assert.True(t, errors.Is(f.resolver.ValidateExtend(me.id, a, a), perm.ErrCycle))
	assert.True(t, errors.Is(f.resolver.ValidateExtend(bob.id, b, a), perm.ErrPermissionDenied))

	// An edge replayed from elsewhere that closes the cycle is ignored.
	f.write(me, b, covalue.ExtendChange(a))
	f.write(me, b, covalue.GrantChange(string(bob.id), defn.RoleReader))
	assert.Equal(t, defn.RoleReader, f.resolver.RoleOf(string(bob.id), a))
	assert.Equal(t, defn.RoleNone, f.resolver.RoleOf(string(bob.id), f.value(me.id)))
	assert.Equal(t, defn.RoleReader, f.resolver.RoleOf(string(bob.id), b))
}

func TestRemovalIsNotRetroactive(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	bob := f.account(false)
	group := f.group(me)
	value := f.value(group)

	f.write(me, group, covalue.GrantChange(string(bob.id), defn.RoleReader))
	before := f.write(me, value, covalue.SetChange("title", []byte("In Child")))
	f.write(me, group, covalue.GrantChange(string(bob.id), defn.RoleNone))
	after := f.write(me, value, covalue.SetChange("title", []byte("Hidden")))

	assert.False(t, f.resolver.CanRead(string(bob.id), value))
	assert.True(t, f.resolver.CanReadTx(string(bob.id), value, before))
	assert.False(t, f.resolver.CanReadTx(string(bob.id), value, after))

	view := f.values[value].View(f.resolver.ViewFilter(string(bob.id), value)).(*covalue.MapState)
	title, _ := view.GetString("title")
	assert.Equal(t, "In Child", title)

	full := f.values[value].View(f.resolver.ViewFilter(defn.Me, value)).(*covalue.MapState)
	title, _ = full.GetString("title")
	assert.Equal(t, "Hidden", title)
}

func TestWritesRequireRoleAtThatTime(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	bob := f.account(false)
	group := f.group(me)
	value := f.value(group)

	early := f.write(bob, value, covalue.SetChange("k", []byte("too early")))
	f.write(me, group, covalue.GrantChange(string(bob.id), defn.RoleWriter))
	late := f.write(bob, value, covalue.SetChange("k", []byte("ok")))

	assert.False(t, f.resolver.CanWriteTx(value, early))
	assert.True(t, f.resolver.CanWriteTx(value, late))
	assert.True(t, errors.Is(f.resolver.ValidateWrite(me.id, group), perm.ErrPermissionDenied))
	assert.NoError(t, f.resolver.ValidateWrite(bob.id, value))
}

func TestCacheDropsRoleComputedDuringInvalidation(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	bob := f.account(false)
	parent := f.group(me)
	child := f.group(me)
	value := f.value(child)

	source := &hookedValues{values: f.values, hooks: map[defn.ValueID]func(){}}
	resolver := perm.NewResolver(me.id, source)
	f.write(me, child, covalue.ExtendChange(parent))
	f.write(me, parent, covalue.GrantChange(string(bob.id), defn.RoleReader))
	resolver.IndexGroup(f.values[parent])
	resolver.IndexGroup(f.values[child])

	// While the role is resolved through the parent, bob becomes a writer of the child.
	source.hooks[parent] = func() {
		f.write(me, child, covalue.GrantChange(string(bob.id), defn.RoleWriter))
		resolver.IndexGroup(f.values[child])
	}
	assert.Equal(t, defn.RoleReader, resolver.RoleOf(string(bob.id), value))
	assert.Equal(t, defn.RoleWriter, resolver.RoleOf(string(bob.id), value))

	f.write(me, child, covalue.GrantChange(string(bob.id), defn.RoleNone))
	resolver.IndexGroup(f.values[child])
	assert.Equal(t, defn.RoleReader, resolver.RoleOf(string(bob.id), value))
}

func TestEveryoneCannotBecomeAdmin(t *testing.T) {
	f := newFixture(t)
	me := f.account(true)
	group := f.group(me)
	value := f.value(group)

	f.write(me, group, covalue.GrantChange(defn.Everyone, defn.RoleReader))
	f.write(me, group, covalue.GrantChange(defn.Everyone, defn.RoleWriter))
	assert.Equal(t, defn.RoleWriter, f.resolver.RoleOf(defn.Everyone, value))

	err := f.resolver.ValidateGrant(me.id, group, defn.Everyone, defn.RoleAdmin)
	assert.True(t, errors.Is(err, perm.ErrInvalidRole))
	assert.Equal(t, defn.RoleWriter, f.resolver.RoleOf(defn.Everyone, value))
	assert.Equal(t, defn.RoleWriter, f.resolver.RoleOf(defn.Everyone, group))
}
