/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package perm

import "github.com/pkg/errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidOwner     = errors.New("invalid owner")
	ErrInvalidRole      = errors.New("invalid role")
	ErrCycle            = errors.New("extend would create a cycle")
	ErrUnknownValue     = errors.New("value is not loaded")
)
