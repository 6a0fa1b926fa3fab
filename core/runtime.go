/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import "time"

// Version of CoSync.
var Version string

// BuildTime contains the timestamp of when the version of CoSync was built.
var BuildTime string

// StartTimestamp is the time the daemon was started.
var StartTimestamp time.Time

// ShouldQuit is set when the daemon is shutting down.
var ShouldQuit = false
