package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"rapidshare/agent"
	"rapidshare/config"
	"rapidshare/discovery"
	"rapidshare/hubclient"
	"rapidshare/logging"
	"rapidshare/netclass"
	"rapidshare/notify"
	"rapidshare/storage"
	"rapidshare/transfer"
)

// env is the data directory, settings and logger every command starts from.
type env struct {
	dataDir  string
	settings config.Settings
	logger   *zap.Logger
}

func loadEnv(opts *rootOptions) (*env, error) {
	dataDir := opts.dataDir
	if dataDir == "" {
		resolved, err := config.ResolveDataDir()
		if err != nil {
			return nil, err
		}
		dataDir = resolved
	}
	if err := config.EnsureDataDirectory(dataDir); err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(dataDir)
	if err != nil {
		return nil, err
	}
	if opts.hubURL != "" {
		settings.Agent.HubURL = opts.hubURL
	}
	if opts.logLevel != "" {
		settings.Log.Level = opts.logLevel
	}

	logger, err := logging.New(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return nil, err
	}

	return &env{dataDir: dataDir, settings: settings, logger: logger}, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
}

// session is one device's identity plus an open backend.
type session struct {
	*env
	identity *config.Identity
	backend  agent.Backend
	hub      *hubclient.Client
	closeFn  func() error
}

func openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	e, err := loadEnv(opts)
	if err != nil {
		return nil, err
	}

	identity, err := openIdentity(e)
	if err != nil {
		e.close()
		return nil, err
	}

	s, err := openSessionFrom(ctx, e, identity)
	if err != nil {
		e.close()
		return nil, err
	}
	return s, nil
}

// openSessionFrom opens the backend for an already loaded env. The caller
// keeps ownership of e.
func openSessionFrom(ctx context.Context, e *env, identity *config.Identity) (*session, error) {
	s := &session{env: e, identity: identity}
	if err := s.openBackend(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) openBackend(ctx context.Context) error {
	hubURL := strings.TrimSpace(s.settings.Agent.HubURL)
	if hubURL == "" && s.settings.Agent.DiscoverHub {
		found, err := discovery.Locate(ctx, discovery.Config{})
		if err != nil {
			s.logger.Warn("hub discovery failed, using local store", zap.Error(err))
		} else {
			hubURL = found.URL()
			s.logger.Info("discovered hub", zap.String("url", hubURL), zap.String("instance", found.Instance))
		}
	}

	if hubURL != "" {
		client, err := hubclient.New(hubURL, hubclient.Options{
			Token:  s.settings.Agent.HubToken,
			Logger: s.logger,
		})
		if err != nil {
			return err
		}
		s.hub = client
		s.backend = client
		return nil
	}

	store, err := storage.OpenPath(s.settings.Agent.Database)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	s.backend = store
	s.closeFn = store.Close
	return nil
}

func (s *session) close() error {
	defer s.env.close()
	return s.closeBackend()
}

func (s *session) closeBackend() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func (s *session) classifier() *netclass.Classifier {
	lookupURL := s.settings.Agent.LookupURL
	if lookupURL == config.LookupViaHub {
		if s.hub != nil {
			lookupURL = s.hub.IPLookupURL()
		} else {
			s.logger.Warn("lookup via hub requested without a hub, using default lookup")
			lookupURL = ""
		}
	}
	return netclass.New(netclass.Options{
		URL:     lookupURL,
		Timeout: s.settings.Agent.LookupTimeout.Duration,
		Logger:  s.logger,
	})
}

// newAgent builds the device agent and prints notifications to notices.
func (s *session) newAgent(notices io.Writer) (*agent.Agent, error) {
	a := s.settings.Agent

	var stepper transfer.Stepper = transfer.FixedStep(a.Step)
	if a.StepMode == config.StepModeRandom {
		stepper = transfer.RandomStep(a.Step, nil)
	}

	ag, err := agent.New(s.identity, s.backend, s.classifier(), agent.Config{
		PresenceInterval:  a.PresenceInterval.Duration,
		OfflineTimeout:    a.OfflineTimeout.Duration,
		DirectoryRefresh:  a.DirectoryRefresh.Duration,
		StaleAfter:        a.StaleAfter.Duration,
		SimulatorInterval: a.SimulatorInterval.Duration,
		Stepper:           stepper,
		RecentLimit:       a.RecentLimit,
		Logger:            s.logger,
	})
	if err != nil {
		return nil, err
	}

	ag.Notifications().On(func(n notify.Notification) {
		prefix := "*"
		if n.Variant == notify.VariantDestructive {
			prefix = "!"
		}
		fmt.Fprintf(notices, "%s %s: %s\n", prefix, n.Title, n.Description)
	})
	return ag, nil
}
