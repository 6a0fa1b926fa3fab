/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package wire

import (
	"sort"

	"github.com/named-data/cosync/defn"
	"golang.org/x/exp/maps"
)

func sortedSessions[V any](m map[defn.SessionID]V) []defn.SessionID {
	keys := maps.Keys(m)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
