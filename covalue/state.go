/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

// State is the derived state of a value. The concrete type follows the value kind:
// *MapState for maps and accounts, *ListState, *StreamState and *GroupState.
type State interface {
	Kind() Kind
}

// reduce folds entries, already in total order, into the state of the given kind.
func reduce(header *Header, entries []Entry) State {
	switch header.Kind {
	case KindMap, KindAccount:
		return reduceMap(header.Kind, entries)
	case KindList:
		return reduceList(entries)
	case KindStream:
		return reduceStream(entries)
	case KindGroup:
		return reduceGroup(header, entries)
	}
	return nil
}
