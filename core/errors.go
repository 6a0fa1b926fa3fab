/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import "github.com/pkg/errors"

// Error definitions
var (
	ErrNotCanonical = errors.New("not a ws:// or wss:// URL")
	ErrShuttingDown = errors.New("shutting down")
)
