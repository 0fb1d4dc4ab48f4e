package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/config"
	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/ledger/celestia"
	"github.com/roach88/blobdb/internal/ledger/memledger"
	"github.com/roach88/blobdb/internal/ledger/sqliteledger"
	"github.com/roach88/blobdb/internal/store"
)

// session is an opened store and everything it was built from.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	client ledger.Client
	store  *store.Store
	close  func() error
}

// Close releases the ledger client and flushes the logger.
func (s *session) Close() error {
	var errs []error
	if s.close != nil {
		errs = append(errs, s.close())
	}
	// Sync on stderr commonly fails with EINVAL; it is not worth reporting.
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// loadConfig merges defaults, the config file, the environment, and the
// flags explicitly set on cmd, then validates the result.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, &config.ValidationError{Message: err.Error()}
	}

	flags := cmd.Flags()
	if flags.Changed("channel") {
		cfg.Channel = o.Channel
	}
	if flags.Changed("channel-width") {
		cfg.ChannelWidth = o.ChannelWidth
	}
	if flags.Changed("ledger") {
		cfg.Ledger.Kind = o.Ledger
	}
	if flags.Changed("db") {
		cfg.Ledger.Path = o.DB
		if !flags.Changed("ledger") {
			cfg.Ledger.Kind = config.LedgerSQLite
		}
	}
	if flags.Changed("endpoint") {
		cfg.Ledger.Endpoint = o.Endpoint
	}
	if flags.Changed("hint") {
		cfg.Hint = o.Hint
	}
	if flags.Changed("search-limit") {
		cfg.SearchLimit = o.SearchLimit
	}
	if flags.Changed("mode") {
		cfg.Mode = o.Mode
	}
	if flags.Changed("codec") {
		cfg.Codec = o.Codec
	}
	if flags.Changed("compress") {
		cfg.Compress = o.Compress
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger builds a console logger writing to w.
func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		lvl,
	)
	return zap.New(core), nil
}

// newClient builds the ledger client selected by cfg. The returned close
// function may be nil.
func newClient(cfg config.Config) (ledger.Client, func() error, error) {
	switch cfg.Ledger.Kind {
	case config.LedgerMemory:
		return memledger.New(1), nil, nil
	case config.LedgerSQLite:
		l, err := sqliteledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, ledger.NewTransportError("open", err)
		}
		return l, l.Close, nil
	case config.LedgerCelestia:
		timeout, err := cfg.Ledger.TimeoutDuration()
		if err != nil {
			return nil, nil, err
		}
		return celestia.New(celestia.Config{
			Endpoint:  cfg.Ledger.Endpoint,
			AuthToken: cfg.Ledger.AuthToken,
			Timeout:   timeout,
		}), nil, nil
	}
	return nil, nil, &config.ValidationError{Path: "ledger.kind", Message: fmt.Sprintf("unknown ledger kind %q", cfg.Ledger.Kind)}
}

// openSession loads config, builds the logger and ledger client, and opens
// the store. Discovery runs here, so a minting open submits a metadata blob.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	ns, err := ledger.NamespaceFromString(cfg.Channel, cfg.ChannelWidth)
	if err != nil {
		return nil, err
	}

	c, err := codec.New(codec.Options{
		Format:   codec.Format(cfg.Codec),
		Compress: cfg.Compress,
	})
	if err != nil {
		return nil, &config.ValidationError{Path: "codec", Message: err.Error()}
	}

	client, closeClient, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	opts := store.Options{
		Namespace:   ns,
		SearchLimit: cfg.SearchLimit,
		Mode:        store.Mode(cfg.Mode),
		Codec:       c,
		Logger:      logger,
	}
	if cfg.Hint != 0 {
		h := ledger.Height(cfg.Hint)
		opts.Hint = &h
	}

	s, err := store.Open(cmd.Context(), client, opts)
	if err != nil {
		if closeClient != nil {
			closeClient()
		}
		return nil, err
	}
	logger.Debug("store opened",
		zap.Stringer("namespace", ns),
		zap.String("origin", string(s.Origin())),
		zap.Uint64("start_height", uint64(s.Metadata().StartHeight)),
	)

	return &session{
		cfg:    cfg,
		logger: logger,
		client: client,
		store:  s,
		close:  closeClient,
	}, nil
}
