/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/security/keychain"
)

var Version string

// Main runs the sync server until interrupted.
func Main(args []string) {
	config := &CoSyncDConfig{Version: Version}

	flagset := flag.NewFlagSet("cosyncd", flag.ExitOnError)
	flagset.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [config-file]\n", args[0])
		flagset.PrintDefaults()
	}

	var printVersion bool
	flagset.BoolVar(&printVersion, "version", false, "Print version and exit")
	flagset.StringVar(&config.LogFile, "log-file", "", "Write logs to the specified file instead of stdout")
	flagset.StringVar(&config.KeychainPath, "keychain", "", "Keychain database (overrides security.keychain)")
	flagset.StringVar(&config.Account, "account", "", "Account to run as (default: the keychain default)")
	flagset.StringVar(&config.CpuProfile, "cpu-profile", "", "Enable CPU profiling (output to specified file)")
	flagset.StringVar(&config.MemProfile, "mem-profile", "", "Enable memory profiling (output to specified file)")
	flagset.StringVar(&config.BlockProfile, "block-profile", "", "Enable block profiling (output to specified file)")

	flagset.Parse(args[1:])

	if printVersion {
		fmt.Fprintln(os.Stderr, "CoSync: Collaborative value synchronization engine")
		fmt.Fprintln(os.Stderr, "Version: ", Version)
		fmt.Fprintln(os.Stderr, "Copyright (C) 2020-2024 Eric Newberry")
		fmt.Fprintln(os.Stderr, "Released under the terms of the MIT License")
		return
	}
	config.ConfigFileName = flagset.Arg(0)

	cosyncd := NewCoSyncD(config)
	if err := cosyncd.Start(); err != nil {
		core.LogError("Main", "Unable to start: ", err)
		cosyncd.Stop()
		os.Exit(2)
	}

	// set up signal handler channel and wait for interrupt
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	receivedSig := <-sigChannel
	core.LogInfo("Main", "Received signal ", receivedSig, " - exiting")

	cosyncd.Stop()
}

// Keygen creates a new account in a keychain and prints its id.
func Keygen(args []string) {
	flagset := flag.NewFlagSet("keygen", flag.ExitOnError)
	flagset.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <keychain>\n", args[0])
		flagset.PrintDefaults()
	}
	var makeDefault bool
	flagset.BoolVar(&makeDefault, "default", false, "Make the new account the keychain default")
	flagset.Parse(args[1:])

	path := flagset.Arg(0)
	if path == "" {
		flagset.Usage()
		os.Exit(3)
	}

	kc, err := keychain.OpenSqlite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to open keychain: "+err.Error())
		os.Exit(1)
	}
	defer kc.Close()

	provider := security.NewProvider()
	agent, err := security.NewAgent(provider)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to create account: "+err.Error())
		os.Exit(1)
	}
	account := covalue.AccountIDForSigner(provider, agent.Signer())
	if err = kc.Save(account, agent.Secret(), makeDefault); err != nil {
		fmt.Fprintln(os.Stderr, "Unable to save account: "+err.Error())
		os.Exit(1)
	}
	fmt.Println(account)
}
