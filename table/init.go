/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import "github.com/named-data/cosync/core"

// backlogWarning is the number of unacknowledged batches to one peer at which a warning is logged.
var backlogWarning = 256

// Configure configures the tables.
func Configure() {
	backlogWarning = core.GetConfigIntDefault("tables.reconcile.backlog_warning", 256)
}
