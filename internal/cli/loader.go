package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/badgerstore"
	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/compiler"
	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/mutator"
	"github.com/roach88/replica/internal/store"
)

// Error codes for CLI responses.
const (
	ErrCodeGeneric        = "E001" // Generic/unknown error
	ErrCodeBackend        = "E002" // Chunk store could not be opened or read
	ErrCodeMutators       = "E003" // Mutator definitions failed to load
	ErrCodeNotInitialized = "E004" // Replica has no head yet
	ErrCodeNotFound       = "E005" // Key, mutator, or path not found
	ErrCodeMutation       = "E006" // Mutator failed or could not commit
	ErrCodePull           = "E007" // Pull response rejected
	ErrCodeConfig         = "E008" // Invalid configuration
	ErrCodeInvalidInput   = "E009" // Malformed argument or file
	ErrCodeTestFailed     = "E010" // Conformance scenarios failed
)

// session is an open replica plus what it was opened from.
type session struct {
	cfg     *config.Config
	replica *engine.Replica
	store   *chunk.Store
	logger  *slog.Logger
	loaded  int // mutators compiled from cfg.MutatorsDir
}

func (s *session) Close() error {
	return s.store.Close()
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.DB != "" {
		cfg.Path = opts.DB
	}
	if opts.ClientID != "" {
		cfg.ClientID = opts.ClientID
	}
	if opts.Mutators != "" {
		cfg.MutatorsDir = opts.Mutators
	}
	if opts.Head != "" {
		cfg.Head = opts.Head
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger returns a text logger at the configured level.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// openChunkStore opens the configured backend.
func openChunkStore(cfg *config.Config, logger *slog.Logger) (*chunk.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return chunk.NewMemoryStore(chunk.WithLogger(logger)), nil

	case config.BackendSQLite:
		b, err := store.Open(cfg.Path, store.WithSyncWrites(cfg.SyncWrites))
		if err != nil {
			return nil, err
		}
		return chunk.NewStore(b, chunk.WithLogger(logger)), nil

	case config.BackendBadger:
		bc := badgerstore.DefaultConfig()
		bc.Path = cfg.Path
		bc.SyncWrites = cfg.SyncWrites
		bc.Logger = logger
		b, err := badgerstore.Open(bc)
		if err != nil {
			return nil, err
		}
		return chunk.NewStore(b, chunk.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// loadRegistry compiles the mutators in dir. An empty dir yields an empty
// registry: reads, pulls, and maintenance need no mutators, and pending
// mutations whose mutator is missing replay as no-ops.
func loadRegistry(dir string) (*mutator.Registry, int, error) {
	reg := mutator.NewRegistry()
	if dir == "" {
		return reg, 0, nil
	}
	res, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, 0, err
	}
	if err := compiler.Register(reg, res.Mutators); err != nil {
		return nil, 0, err
	}
	return reg, len(res.Mutators), nil
}

// openSession resolves configuration, opens the chunk store, compiles the
// mutators, and builds the replica. Failures are reported through f and
// returned as an ExitError.
func openSession(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	reg, n, err := loadRegistry(cfg.MutatorsDir)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeMutators, err)
	}
	f.VerboseLog("Loaded %d mutator(s) from %q", n, cfg.MutatorsDir)

	st, err := openChunkStore(cfg, logger)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeBackend, fmt.Errorf("open %s store: %w", cfg.Backend, err))
	}
	f.VerboseLog("Opened %s store at %q", cfg.Backend, cfg.Path)

	r := engine.New(st, reg,
		engine.WithClientID(cfg.ClientID),
		engine.WithHeadName(cfg.Head),
		engine.WithMaxRetries(cfg.MaxRetries),
		engine.WithLogger(logger),
	)
	return &session{cfg: cfg, replica: r, store: st, logger: logger, loaded: n}, nil
}

// closeSession closes s, logging rather than masking an earlier error.
func closeSession(s *session) {
	if err := s.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

// failRead maps a read error to an exit error.
func failRead(f *OutputFormatter, err error) error {
	if engine.IsNotInitialized(err) {
		return f.Fail(ExitCommandError, ErrCodeNotInitialized,
			errors.New("replica is not initialized (run 'replica init')"))
	}
	return f.Fail(ExitFailure, ErrCodeBackend, err)
}
