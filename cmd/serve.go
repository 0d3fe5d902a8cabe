package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"grimm.is/brcompat/internal/brand"
	"grimm.is/brcompat/internal/compat"
	"grimm.is/brcompat/internal/config"
	"grimm.is/brcompat/internal/correlator"
	"grimm.is/brcompat/internal/ctlplane"
	"grimm.is/brcompat/internal/device"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/health"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
	"grimm.is/brcompat/internal/transport"
)

// ServeOptions overrides pieces serve would otherwise build from config.
type ServeOptions struct {
	Conduit   transport.Conduit
	Netlinker device.Netlinker
	Metrics   *metrics.Registry
	Logger    *logging.Logger
}

// shimServices holds what serve started.
type shimServices struct {
	logger    *logging.Logger
	transport *transport.Transport

	cleanupFuncs []func()
}

func (s *shimServices) addCleanup(fn func()) {
	s.cleanupFuncs = append(s.cleanupFuncs, fn)
}

// Shutdown calls all registered cleanup functions in reverse order.
func (s *shimServices) Shutdown() {
	for i := len(s.cleanupFuncs) - 1; i >= 0; i-- {
		s.cleanupFuncs[i]()
	}
}

// RunServe loads configFile and runs the shim until SIGINT or SIGTERM.
// SIGHUP reloads the log level.
func RunServe(configFile string, printConfig bool) error {
	cfg, found, err := config.LoadOrDefault(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if printConfig {
		_, err := os.Stdout.Write(config.Render(cfg))
		return err
	}

	logger := newLogger(cfg.Logging)
	logging.SetDefault(logger)
	if !found {
		logger.Warn("no configuration file, using defaults", "path", configFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel, configFile, logger)

	return Serve(ctx, cfg, ServeOptions{Logger: logger})
}

func newLogger(cfg *config.LoggingConfig) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.Level)
	return logging.New(logging.Config{Level: level, JSON: cfg.JSON, Output: os.Stderr})
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, configFile string, logger *logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				logger.Info("received signal, shutting down", "signal", sig.String())
				cancel()
				return
			}
			cfg, _, err := config.LoadOrDefault(configFile)
			if err != nil {
				logger.Error("failed to reload configuration", "error", err)
				continue
			}
			level, _ := logging.ParseLevel(cfg.Logging.Level)
			logger.SetLevel(level)
			logger.Info("reloaded configuration", "level", level.String())
		}
	}
}

// Serve runs the shim with cfg until ctx is done.
func Serve(ctx context.Context, cfg *config.Config, opts ServeOptions) error {
	s, err := startServices(cfg, opts)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	errCh := make(chan error, 1)
	go func() { errCh <- s.transport.Run(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("transport stopped: %w", err)
		}
		return nil
	}
}

func startServices(cfg *config.Config, opts ServeOptions) (s *shimServices, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = newLogger(cfg.Logging)
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Get()
	}
	hub := events.NewHub()

	s = &shimServices{logger: logger}
	defer func() {
		if err != nil {
			s.Shutdown()
		}
	}()

	conduit := opts.Conduit
	if conduit == nil {
		conduit, err = newConduit(cfg.Transport)
		if err != nil {
			return nil, err
		}
	}
	s.addCleanup(func() { conduit.Close() })

	// The allow list only means something for IP conduits.
	var allowed []netip.Prefix
	if _, ok := conduit.LocalAddr().(*net.UDPAddr); ok {
		if allowed, err = cfg.Transport.PeerPrefixes(); err != nil {
			return nil, err
		}
	}
	s.transport = transport.New(conduit, transport.Config{
		FamilyID:     uint16(cfg.Control.FamilyID),
		QueueSize:    cfg.Transport.QueueSize,
		AllowedPeers: allowed,
		Logger:       logger,
		Metrics:      reg,
		Hub:          hub,
	})

	var state *correlator.State
	if seq := cfg.Control.InitialSequence; seq != nil {
		state = correlator.NewStateAt(uint32(*seq))
	}
	corr := correlator.New(s.transport, correlator.Config{
		Timeout: cfg.Control.TimeoutDuration(),
		State:   state,
		Logger:  logger,
		Metrics: reg,
		Hub:     hub,
	})
	corr.Register(s.transport)

	nl := opts.Netlinker
	if nl == nil {
		rn, err := device.NewNetlinker(cfg.Device.Netns)
		if err != nil {
			return nil, err
		}
		s.addCleanup(rn.Close)
		nl = rn
	}
	resolver := device.NewResolver(nl)

	svc := compat.NewService(compat.Config{
		Caller:  corr,
		Devices: resolver,
		GroupID: uint32(cfg.Control.GroupID),
		Logger:  logger,
		Metrics: reg,
		Hub:     hub,
	})
	svc.Register(s.transport)

	admins := make([]uint32, len(cfg.Ctl.AdminUIDs))
	for i, uid := range cfg.Ctl.AdminUIDs {
		admins[i] = uint32(uid)
	}
	ctlServer, err := ctlplane.NewServer(ctlplane.ServerConfig{
		Dispatcher: svc,
		Sequence:   corr,
		Names:      resolver,
		Hub:        hub,
		Logger:     logger,
		AdminUIDs:  admins,
	})
	if err != nil {
		return nil, err
	}
	socket := cfg.Ctl.Socket
	if err := os.MkdirAll(filepath.Dir(socket), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := ctlServer.Start(socket); err != nil {
		return nil, err
	}
	s.addCleanup(func() {
		ctlServer.Close()
		os.Remove(socket)
	})

	tracker := health.NewCallTracker(nil, 0)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	go tracker.Watch(watchCtx, hub)
	s.addCleanup(stopWatch)

	checker := health.NewChecker(nil)
	checker.Register("daemon", tracker.Check)
	checker.Register("queue", health.QueueCheck(hub))
	checker.Register("links", health.LinksCheck(nl))

	if addr := cfg.Metrics.Listen; addr != "" {
		stop, err := serveMetrics(addr, reg, checker, logger)
		if err != nil {
			return nil, err
		}
		s.addCleanup(stop)
	}

	logger.Info("shim running",
		"family", brand.GenlFamily,
		"group", brand.MulticastGroup,
		"conduit", conduit.LocalAddr().String(),
		"timeout", corr.Timeout(),
		"sequence", corr.Sequence(),
	)
	return s, nil
}

func newConduit(cfg *config.TransportConfig) (transport.Conduit, error) {
	switch cfg.Kind {
	case config.TransportMemory:
		// Nothing else can attach to a private bus, so every call fails
		// with no listeners. Useful for checking a configuration.
		ep, err := transport.NewMemoryBus(cfg.QueueSize).Attach("shim")
		if err != nil {
			return nil, err
		}
		return ep, nil
	case config.TransportUDP:
		c, err := transport.ListenUDP(transport.UDPConfig{
			Group:     cfg.Group,
			Interface: cfg.Interface,
			Listen:    cfg.Listen,
			Join:      cfg.Join,
			TTL:       cfg.TTL,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
}

// serveMetrics serves /metrics, /healthz and /livez on addr.
func serveMetrics(addr string, reg *metrics.Registry, checker *health.Checker, logger *logging.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/livez", health.LivenessHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listening", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
