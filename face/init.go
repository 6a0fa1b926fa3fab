/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

import (
	"time"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/defn"
)

// memoryQueueSize is the number of frames buffered in each direction of an in-memory pipe.
var memoryQueueSize = 1024

// defaultPriority is used for messages whose priority is out of range.
var defaultPriority = defn.PriorityMedium

// sendRetries is the number of times a failed transport write is retried before the peer is closed.
var sendRetries = 5

// retryBaseDelay is the first backoff delay after a failed write. It doubles on every retry.
var retryBaseDelay = 50 * time.Millisecond

// retryMaxDelay caps the backoff delay.
var retryMaxDelay = 5 * time.Second

// maxFrameSize is the largest frame accepted from a WebSocket.
var maxFrameSize = 16 * 1024 * 1024

// Configure configures the peer system.
func Configure() {
	memoryQueueSize = core.GetConfigIntDefault("faces.queue_size", 1024)
	defaultPriority = defn.Priority(core.GetConfigIntDefault("faces.default_priority", int(defn.PriorityMedium)))
	if int(defaultPriority) >= defn.NumPriorities {
		core.LogWarn("Face", "faces.default_priority out of range, using ", defn.PriorityMedium)
		defaultPriority = defn.PriorityMedium
	}
	sendRetries = core.GetConfigIntDefault("faces.send_retries", 5)
	retryBaseDelay = time.Duration(core.GetConfigIntDefault("faces.retry_base_ms", 50)) * time.Millisecond
	retryMaxDelay = time.Duration(core.GetConfigIntDefault("faces.retry_max_ms", 5000)) * time.Millisecond
	maxFrameSize = core.GetConfigIntDefault("faces.websocket.max_frame_size", 16*1024*1024)
}
