/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package node

import (
	"strconv"

	"github.com/cespare/xxhash"
	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/defn"
)

// syncThread runs the tasks of the values hashed to it, one at a time.
type syncThread struct {
	threadID int
	pending  chan func()
	hasQuit  chan struct{}
}

func newSyncThread(id int) *syncThread {
	return &syncThread{
		threadID: id,
		pending:  make(chan func(), threadQueueSize),
		hasQuit:  make(chan struct{}),
	}
}

func (t *syncThread) String() string {
	return "SyncThread-" + strconv.Itoa(t.threadID)
}

func (t *syncThread) run() {
	for task := range t.pending {
		task()
	}
	core.LogDebug(t, "Stopping thread")
	close(t.hasQuit)
}

// threadFor hashes a value to its sync thread.
func (n *Node) threadFor(id defn.ValueID) *syncThread {
	return n.threads[xxhash.Sum64String(string(id))%uint64(len(n.threads))]
}

// dispatch queues a task on the thread owning id. It reports false once the threads stopped.
func (n *Node) dispatch(id defn.ValueID, task func()) bool {
	n.threadMu.RLock()
	defer n.threadMu.RUnlock()
	if n.threadsStopped {
		return false
	}
	t := n.threadFor(id)
	core.LogTrace(n, "Dispatched ", id, " to ", t)
	t.pending <- task
	return true
}

// drainThreads waits until every task queued so far has run, or done is closed.
func (n *Node) drainThreads(done <-chan struct{}) {
	n.threadMu.RLock()
	if n.threadsStopped {
		n.threadMu.RUnlock()
		return
	}
	marks := make([]chan struct{}, len(n.threads))
	for i, t := range n.threads {
		mark := make(chan struct{})
		marks[i] = mark
		t.pending <- func() { close(mark) }
	}
	n.threadMu.RUnlock()

	for _, mark := range marks {
		select {
		case <-mark:
		case <-done:
			return
		}
	}
}

func (n *Node) stopThreads() {
	n.threadMu.Lock()
	if n.threadsStopped {
		n.threadMu.Unlock()
		return
	}
	n.threadsStopped = true
	for _, t := range n.threads {
		close(t.pending)
	}
	n.threadMu.Unlock()

	for _, t := range n.threads {
		<-t.hasQuit
	}
}
