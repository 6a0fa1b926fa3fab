/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package node

import "github.com/pkg/errors"

var (
	// ErrTimeout is returned when a wait ends before every reconcile batch completed.
	ErrTimeout = errors.New("timed out waiting for sync")
	// ErrWrongKind is returned when an operation does not apply to the kind of the value.
	ErrWrongKind = errors.New("operation does not apply to this kind of value")
)
