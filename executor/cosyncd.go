/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"context"
	"net/http"
	"time"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/face"
	"github.com/named-data/cosync/node"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/security/keychain"
	"github.com/named-data/cosync/storage"
	"github.com/named-data/cosync/table"
	"github.com/pkg/errors"
)

// CoSyncDConfig is the configuration of the daemon.
type CoSyncDConfig struct {
	Version        string
	ConfigFileName string
	LogFile        string
	KeychainPath   string
	Account        string
	CpuProfile     string
	MemProfile     string
	BlockProfile   string
}

// CoSyncD is a sync server: a node that accepts clients over WebSockets, persists what it
// holds to a storage backend and optionally relays to upstream servers.
type CoSyncD struct {
	config   *CoSyncDConfig
	profiler *Profiler

	keychain   *keychain.SqliteKeychain
	store      storage.Store
	node       *node.Node
	wsListener *face.WebSocketListener
}

// NewCoSyncD loads the configuration and sets up logging.
func NewCoSyncD(config *CoSyncDConfig) *CoSyncD {
	core.Version = config.Version
	core.StartTimestamp = time.Now()
	core.ShouldQuit = false

	if config.ConfigFileName != "" {
		core.LoadConfig(config.ConfigFileName)
	}
	core.InitializeLogger(config.LogFile)
	face.Configure()
	table.Configure()
	node.Configure()

	return &CoSyncD{
		config:   config,
		profiler: NewProfiler(config),
	}
}

// Node returns the running node, or nil before Start.
func (d *CoSyncD) Node() *node.Node {
	return d.node
}

// ListenURL returns the WebSocket address clients dial, or "" when the listener is disabled.
func (d *CoSyncD) ListenURL() string {
	if d.wsListener == nil {
		return ""
	}
	return d.wsListener.URL()
}

// Start opens the identity and storage, starts the node and its listeners and dials upstream
// servers. It does not block.
func (d *CoSyncD) Start() error {
	core.LogInfo("Main", "Starting CoSyncD ", core.Version)
	if err := d.profiler.Start(); err != nil {
		return err
	}

	agent, err := d.openIdentity()
	if err != nil {
		return err
	}
	d.node = node.New(agent)
	core.LogInfo("Main", "Running as ", d.node.Account())

	if err = d.openStore(); err != nil {
		return err
	}
	if d.store != nil {
		backend := core.GetConfigStringDefault("storage.backend", "bolt")
		if err = d.node.AddStorage(backend, d.store); err != nil {
			return err
		}
	}

	for _, url := range core.GetConfigArrayString("sync.upstream") {
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(core.GetConfigIntDefault("sync.dial_timeout_ms", 5000))*time.Millisecond)
		t, err := face.DialWebSocket(ctx, url, nil)
		cancel()
		if err != nil {
			core.LogError("Main", "Unable to connect to upstream ", url, ": ", err)
			continue
		}
		if err = d.node.AddPeer(face.NewPeer(defn.NewPeerID("server"), defn.PeerServer, t)); err != nil {
			return err
		}
		core.LogInfo("Main", "Connected to upstream ", url)
	}

	if core.GetConfigBoolDefault("faces.websocket.enabled", true) {
		cfg := face.WebSocketListenerConfig{
			Bind:       core.GetConfigStringDefault("faces.websocket.bind", ""),
			Port:       core.GetConfigUint16Default("faces.websocket.port", 4200),
			TLSEnabled: core.GetConfigBoolDefault("faces.websocket.tls_enabled", false),
			TLSCert:    core.ResolveConfigFileRelPath(core.GetConfigStringDefault("faces.websocket.tls_cert", "")),
			TLSKey:     core.ResolveConfigFileRelPath(core.GetConfigStringDefault("faces.websocket.tls_key", "")),
		}
		d.wsListener, err = face.NewWebSocketListener(cfg, d.accept)
		if err != nil {
			return errors.Wrapf(err, "create %s", cfg)
		}
		if err = d.wsListener.Listen(); err != nil {
			return err
		}
		go d.wsListener.Run()
		core.LogInfo("Main", "Created ", cfg)
	}
	return nil
}

func (d *CoSyncD) accept(t *face.WebSocketTransport, r *http.Request) {
	p := face.NewPeer(defn.NewPeerID("client"), defn.PeerClient, t)
	if err := d.node.AddPeer(p); err != nil {
		core.LogWarn("Main", "Refusing ", r.RemoteAddr, ": ", err)
		t.Close()
	}
}

// openIdentity loads the configured account from the keychain. Without an account the default
// one is used, and a new default account is created if the keychain is empty.
func (d *CoSyncD) openIdentity() (*security.Agent, error) {
	path := d.config.KeychainPath
	if path == "" {
		path = core.ResolveConfigFileRelPath(core.GetConfigStringDefault("security.keychain", "keychain.db"))
	}
	kc, err := keychain.OpenSqlite(path)
	if err != nil {
		return nil, err
	}
	d.keychain = kc
	provider := security.NewProvider()

	if d.config.Account != "" {
		secret, err := kc.Get(defn.AccountID(d.config.Account))
		if err != nil {
			return nil, err
		}
		return security.AgentFromSecret(provider, secret)
	}

	_, secret, err := kc.Default()
	if err == nil {
		return security.AgentFromSecret(provider, secret)
	}
	if !errors.Is(err, keychain.ErrNoAccount) {
		return nil, err
	}

	agent, err := security.NewAgent(provider)
	if err != nil {
		return nil, err
	}
	account := covalue.AccountIDForSigner(provider, agent.Signer())
	if err = kc.Save(account, agent.Secret(), true); err != nil {
		return nil, err
	}
	core.LogInfo("Main", "Created account ", account, " in ", path)
	return agent, nil
}

func (d *CoSyncD) openStore() error {
	backend := core.GetConfigStringDefault("storage.backend", "bolt")
	path := core.ResolveConfigFileRelPath(core.GetConfigStringDefault("storage.path", "cosync.db"))

	var key *security.KeySecret
	if hexKey := core.GetConfigStringDefault("storage.encryption_key", ""); hexKey != "" {
		var err error
		if key, err = security.ParseKeySecret(hexKey); err != nil {
			return errors.Wrap(err, "storage.encryption_key")
		}
	}

	var err error
	switch backend {
	case "bolt":
		d.store, err = storage.NewBoltStore(path, d.node.Provider(), key)
	case "sqlite":
		d.store, err = storage.NewSqliteStore(path, d.node.Provider(), key)
	case "memory":
		d.store = storage.NewMemoryStore()
	case "none":
		core.LogWarn("Main", "Running without storage")
	default:
		err = errors.Errorf("unknown storage backend %q", backend)
	}
	if err != nil {
		return err
	}
	if d.store != nil {
		core.LogInfo("Main", "Opened ", backend, " storage at ", path)
	}
	return nil
}

// Stop shuts the daemon down, flushing pending sync messages first.
func (d *CoSyncD) Stop() {
	core.LogInfo("Main", "CoSyncD shutting down ...")
	core.ShouldQuit = true

	if d.wsListener != nil {
		d.wsListener.Close()
	}
	if d.node != nil {
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(core.GetConfigIntDefault("sync.shutdown_timeout_ms", 5000))*time.Millisecond)
		if err := d.node.GracefulShutdown(ctx); err != nil {
			core.LogWarn("Main", "Unclean shutdown: ", err)
		}
		cancel()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			core.LogError("Main", "Unable to close storage: ", err)
		}
	}
	if d.keychain != nil {
		d.keychain.Close()
	}

	d.profiler.Stop()
	core.LogInfo("Main", "CoSyncD stopped")
	core.ShutdownLogger()
}
