package msh

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/openas4/msh/internal/config"
	"github.com/openas4/msh/internal/keystore"
	"github.com/openas4/msh/internal/storage/mongodb"
	"github.com/openas4/msh/pkg/discovery"
	"github.com/openas4/msh/pkg/pmode"
	"github.com/openas4/msh/pkg/reliability"
	"github.com/openas4/msh/pkg/scheduler"
	"github.com/openas4/msh/pkg/steps"
	"github.com/openas4/msh/pkg/transport"
)

// FromConfig assembles an MSH from a loaded configuration: the MongoDB
// store, the certificate repository, the pmode registry, the pull
// channels and, when a lookup domain is configured, BDXL endpoint
// resolution. Shutdown closes the backends opened here.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*MSH, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := mongodb.NewStore(ctx, &cfg.Storage.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}

	certs, err := keystore.NewRepository(&cfg.Keystore)
	if err != nil {
		store.Close(ctx)
		return nil, fmt.Errorf("opening keystore: %w", err)
	}

	registry := pmode.NewRegistry()
	if cfg.PModes.Dir != "" {
		if err := registry.LoadDirectory(cfg.PModes.Dir); err != nil {
			certs.Close()
			store.Close(ctx)
			return nil, err
		}
	}

	opts, err := optionsFromConfig(cfg, logger)
	if err != nil {
		certs.Close()
		store.Close(ctx)
		return nil, err
	}

	m := New(store, store, certs, registry, opts)
	m.closers = append(m.closers,
		func(context.Context) error { return certs.Close() },
		func(ctx context.Context) error { return store.Close(ctx) },
	)
	return m, nil
}

// optionsFromConfig maps the configuration file onto MSH options.
func optionsFromConfig(cfg *config.Config, logger *slog.Logger) (Options, error) {
	opts := Options{
		Logger:        logger,
		ServerAddress: cfg.Server.Address,
		ServerPath:    cfg.Server.Path,
		Reliability: &reliability.Config{
			PollInterval: cfg.Reliability.PollInterval,
			BatchSize:    cfg.Reliability.BatchSize,
		},
	}

	if cfg.Server.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return Options{}, fmt.Errorf("loading server certificate: %w", err)
		}
		https := transport.DefaultHTTPSConfig()
		https.Certificates = []tls.Certificate{cert}
		opts.HTTPS = https
	}

	for _, ch := range cfg.Pulling.Channels {
		opts.PullChannels = append(opts.PullChannels, scheduler.ChannelConfig{
			Mpc:         ch.Mpc,
			MinInterval: ch.MinInterval,
			MaxInterval: ch.MaxInterval,
		})
		opts.PullTargets = append(opts.PullTargets, PullTarget{
			Mpc:  ch.Mpc,
			URL:  ch.URL,
			Auth: ch.Auth,
		})
	}
	if len(cfg.Pulling.Authorization) > 0 {
		opts.PullAuthorization = steps.AuthorizationMap(cfg.Pulling.Authorization)
	}

	if cfg.Discovery.LookupDomain != "" {
		opts.Endpoints = discovery.NewResolver(cfg.Discovery)
	}
	return opts, nil
}
