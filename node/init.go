/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package node

import (
	"time"

	"github.com/named-data/cosync/core"
)

// MaxSyncThreads is the maximum number of sync threads.
const MaxSyncThreads = 32

// numSyncThreads is the number of sync threads a node starts.
var numSyncThreads = 4

// threadQueueSize is the number of pending tasks each sync thread buffers.
var threadQueueSize = 1024

// relayTimeout bounds how long a server waits on its own upstream peers for a value a client asked for.
var relayTimeout = 5 * time.Second

// storageQueueSize is the number of replies buffered by storage peers.
var storageQueueSize = 1024

// Configure configures the sync coordinator.
func Configure() {
	numSyncThreads = core.GetConfigIntDefault("sync.threads", 4)
	if numSyncThreads < 1 || numSyncThreads > MaxSyncThreads {
		core.LogWarn("Node", "sync.threads must be between 1 and ", MaxSyncThreads, ", using 4")
		numSyncThreads = 4
	}
	threadQueueSize = core.GetConfigIntDefault("sync.thread_queue_size", 1024)
	relayTimeout = time.Duration(core.GetConfigIntDefault("sync.relay_timeout_ms", 5000)) * time.Millisecond
	storageQueueSize = core.GetConfigIntDefault("storage.queue_size", 1024)
}
