// Package agentrelay provides a high-level façade over the two coordination
// substrates for independent agent-executor processes: a bidirectional stdio
// RPC layer between a controller and its spawned workers, and a durable
// file-backed bus for longer-lived session state, command queues and
// credential-pool rotation. Most applications interact with this package by:
//  1. Creating a Relay via New() (optionally overriding config and logger)
//  2. Spawning worker processes (SpawnWorker) that run the server engine on
//     their stdio
//  3. Exchanging durable state through the session store, channel logs and
//     pool stores
//
// The façade delegates the mechanics to the client, server, bus, session and
// pool packages while keeping setup ergonomics concise. All communicating
// processes are assumed local: pipes and a shared filesystem only, no
// sockets.
package agentrelay

import (
	"context"
	"fmt"

	"github.com/agentrelay/agentrelay/bus"
	"github.com/agentrelay/agentrelay/client"
	"github.com/agentrelay/agentrelay/config"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/pool"
	"github.com/agentrelay/agentrelay/session"
)

// Options configures the Relay instance.
type Options struct {
	// Config carries the state directory, worker definitions and timing
	// parameters. Defaults to config.Default().
	Config config.Config

	// Logger defaults to a NoOp logger if nil.
	Logger logging.Logger
}

// Relay is the controller-side aggregate: session store, pool stores and
// worker spawning share one state directory and logger.
type Relay struct {
	opts     Options
	logger   logging.Logger
	sessions *session.Store
}

// New creates a Relay with optional overrides.
func New(optFns ...func(o *Options)) (*Relay, error) {
	opts := Options{Config: config.Default(), Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}

	sessions := session.NewStore(opts.Config.StateDir, func(o *session.StoreOptions) {
		o.Logger = opts.Logger
	})
	return &Relay{opts: opts, logger: opts.Logger, sessions: sessions}, nil
}

// Sessions exposes the session record store.
func (r *Relay) Sessions() *session.Store { return r.sessions }

// Pool returns the rotation store for the named credential pool, persisted in
// the relay's state directory.
func (r *Relay) Pool(name string) *pool.Store {
	return pool.NewStore(name, r.sessions.PoolPath(name), func(o *pool.StoreOptions) {
		o.Logger = r.logger
	})
}

// SpawnWorker starts the named worker from configuration, wiring the state
// directory and working directory into its environment. The worker is
// expected to speak the RPC framing on its stdio and/or write to the bus
// files under the state directory.
func (r *Relay) SpawnWorker(ctx context.Context, name string) (*client.Client, error) {
	def, ok := r.opts.Config.Workers[name]
	if !ok {
		return nil, fmt.Errorf("unknown worker %q", name)
	}
	return r.spawn(ctx, name, def)
}

// SpawnCommand starts an ad hoc worker command with the same environment
// wiring as a configured worker.
func (r *Relay) SpawnCommand(ctx context.Context, command string, args ...string) (*client.Client, error) {
	return r.spawn(ctx, command, config.WorkerConfig{Command: command, Args: args})
}

func (r *Relay) spawn(ctx context.Context, name string, def config.WorkerConfig) (*client.Client, error) {
	env := []string{
		config.EnvStateDir + "=" + r.opts.Config.StateDir,
	}
	if def.Dir != "" {
		env = append(env, config.EnvWorkDir+"="+def.Dir)
	}

	c, err := client.Spawn(ctx, def.Command, def.Args, func(o *client.Options) {
		o.Env = env
		o.Dir = def.Dir
		o.Logger = r.logger
	})
	if err != nil {
		return nil, fmt.Errorf("spawn worker %q: %w", name, err)
	}
	r.logger.Info("relay.worker.spawned", "worker", name, "command", def.Command)
	return c, nil
}

// Append writes one record to a session channel log.
func (r *Relay) Append(sessionID, channel, kind string, payload any) error {
	rec, err := bus.NewRecord(kind, payload)
	if err != nil {
		return err
	}
	return bus.Append(r.sessions.ChannelPath(sessionID, channel), rec)
}

// ReadSince reads a session channel log from the given byte offset.
func (r *Relay) ReadSince(sessionID, channel string, offset int64) ([]bus.Record, int64, error) {
	return bus.ReadSince(r.sessions.ChannelPath(sessionID, channel), offset)
}

// Follow tails a session channel log from the given byte offset.
func (r *Relay) Follow(ctx context.Context, sessionID, channel string, offset int64) (<-chan bus.Record, error) {
	return bus.Follow(ctx, r.sessions.ChannelPath(sessionID, channel), offset, func(o *bus.FollowOptions) {
		o.PollInterval = r.opts.Config.PollInterval.Std()
		o.Logger = r.logger
	})
}

// Heartbeat stamps the named liveness sentinel for a session.
func (r *Relay) Heartbeat(sessionID, name string) error {
	return bus.Touch(r.sessions.SentinelPath(sessionID, name))
}

// Ready reports whether the named consumer's sentinel is fresh within the
// configured heartbeat window.
func (r *Relay) Ready(sessionID, name string) bool {
	return bus.Fresh(r.sessions.SentinelPath(sessionID, name), r.opts.Config.HeartbeatMaxAge.Std())
}
