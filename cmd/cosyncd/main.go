/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package main

import (
	"os"

	"github.com/named-data/cosync/cmd"
	"github.com/named-data/cosync/executor"
)

func main() {
	tree := cmd.CmdTree{
		Name: "cosync",
		Help: "Collaborative value synchronization engine",
		Sub: []*cmd.CmdTree{{
			Name: "server",
			Help: "CoSync sync server",
			Sub: []*cmd.CmdTree{{
				Name: "run",
				Help: "Start the sync server",
				Fun:  executor.Main,
			}},
		}, {
			Name: "keygen",
			Help: "Create an account in a keychain",
			Fun:  executor.Keygen,
		}},
	}

	args := os.Args
	args[0] = tree.Name
	tree.Execute(args)
}
