/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

import "github.com/pkg/errors"

var (
	ErrInvalidSession = errors.New("caller does not own the session")
	ErrOutOfOrder     = errors.New("transaction index does not follow the session")
	ErrBadSignature   = errors.New("transaction signature is invalid")
	ErrMalformed      = errors.New("malformed encoding")
)
