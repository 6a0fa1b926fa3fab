/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

// ListState is an insertion-ordered list merged RGA style: an item is placed right after its
// reference, so concurrent inserts after the same reference appear newest first.
type ListState struct {
	items   []listItem
	removed map[string]struct{}
}

type listItem struct {
	id    string
	value []byte
}

func reduceList(entries []Entry) *ListState {
	l := &ListState{removed: make(map[string]struct{})}
	// Inserts grouped by reference, in total order.
	children := map[string][]listItem{}
	total := 0
	for _, e := range entries {
		for n, c := range e.Tx.Changes {
			switch c.Op {
			case OpIns:
				item := listItem{id: ItemID(e.Tx.Session, e.Tx.Index, n), value: c.Value}
				children[c.Key] = append(children[c.Key], item)
				total++
			case OpRm:
				l.removed[c.Key] = struct{}{}
			}
		}
	}

	// Preorder walk from the list start. Later siblings come first; items whose reference
	// never arrived are unreachable and stay hidden.
	l.items = make([]listItem, 0, total)
	stack := append([]listItem(nil), children[ListStart]...)
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		l.items = append(l.items, item)
		stack = append(stack, children[item.id]...)
	}
	return l
}

func (l *ListState) Kind() Kind {
	return KindList
}

// Items returns the values of the visible items in list order.
func (l *ListState) Items() [][]byte {
	ret := make([][]byte, 0, len(l.items))
	for _, it := range l.items {
		if _, gone := l.removed[it.id]; !gone {
			ret = append(ret, it.value)
		}
	}
	return ret
}

// ItemIDs returns the ids of the visible items in list order.
func (l *ListState) ItemIDs() []string {
	ret := make([]string, 0, len(l.items))
	for _, it := range l.items {
		if _, gone := l.removed[it.id]; !gone {
			ret = append(ret, it.id)
		}
	}
	return ret
}

// Strings returns the visible items as strings.
func (l *ListState) Strings() []string {
	items := l.Items()
	ret := make([]string, len(items))
	for i, v := range items {
		ret[i] = string(v)
	}
	return ret
}

func (l *ListState) Len() int {
	return len(l.ItemIDs())
}
