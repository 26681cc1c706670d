package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/rescale/remotesh/internal/config"
	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/metrics"
	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/notify"
	"github.com/rescale/remotesh/internal/session"
	"github.com/rescale/remotesh/internal/transfer"
	"github.com/rescale/remotesh/internal/transport"
)

// PasswordEnv names the environment variable holding the ssh password.
const PasswordEnv = "REMOTESH_PASSWORD"

// remoteEnv is everything one CLI invocation needs to talk to the host.
type remoteEnv struct {
	profile *config.Profile
	bus     *events.EventBus
	events  <-chan events.Event
	log     *logging.Logger
	mgr     *session.Manager
	coord   *transfer.Coordinator
	metrics *http.Server
}

// loadProfile reads the profile and applies flag overrides.
func loadProfile() (*config.Profile, error) {
	cfg, err := config.LoadProfile(cfgFile)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Profile) {
	if host != "" {
		cfg.Connection.Host = host
	}
	if user != "" {
		cfg.Connection.User = user
	}
	if port != 0 {
		cfg.Connection.Port = port
	}
	if identityFile != "" {
		cfg.Connection.IdentityFile = identityFile
	}
	if backend != "" {
		cfg.Transport.Backend = strings.ToLower(backend)
	}
}

// readPassword returns the credential from the environment, or prompts for
// it when --ask-password is set and stdin is a terminal.
func readPassword(target string) (models.Secret, error) {
	if pw, ok := os.LookupEnv(PasswordEnv); ok && pw != "" {
		return models.NewSecret(pw), nil
	}
	if !askPassword {
		return nil, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("--ask-password requires a terminal; set %s instead", PasswordEnv)
	}
	fmt.Fprintf(os.Stderr, "%s's password: ", target)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return models.Secret(pw), nil
}

// openRemote builds the session stack and connects. The caller must Close
// the returned env.
func openRemote(ctx context.Context) (*remoteEnv, error) {
	cfg, err := loadProfile()
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus(cfg.Events.BufferSize)
	log := GetLogger().WithEventBus(bus)

	factory, err := transport.NewFactory(cfg.Transport.Backend, transport.Options{
		SSHPath:               cfg.Transport.SSHPath,
		SCPPath:               cfg.Transport.SCPPath,
		SSHPassPath:           cfg.Transport.SSHPassPath,
		ConnectTimeout:        cfg.ConnectTimeout(),
		StrictHostKeyChecking: cfg.Transport.StrictHostKeyChecking,
		PollInterval:          cfg.ProgressInterval(),
	}, log)
	if err != nil {
		bus.Close()
		return nil, err
	}

	env := &remoteEnv{
		profile: cfg,
		bus:     bus,
		events:  bus.SubscribeAll(),
		log:     log,
	}
	env.mgr = session.NewManager(session.Options{
		Factory:        factory,
		Bus:            bus,
		Logger:         log,
		ProbeTimeout:   cfg.ConnectTimeout(),
		CommandTimeout: cfg.CommandTimeout(),
		DrainTimeout:   constants.DrainTimeout,
	})
	env.coord = transfer.NewCoordinator(env.mgr, transfer.Options{
		Bus:           bus,
		Logger:        log,
		MaxConcurrent: cfg.Transfers.MaxConcurrent,
	})
	env.mgr.OnDisconnect(env.coord.CancelAll)

	if metricsAddr != "" {
		env.serveMetrics(metricsAddr)
	}
	if notifyDesk {
		n := notify.NewNotifier(notify.DefaultConfig(), log)
		go n.Watch(bus.SubscribeAll())
	}

	info := models.ConnectionInfo{
		Host:         cfg.Connection.Host,
		Username:     cfg.Connection.User,
		Port:         cfg.Connection.Port,
		IdentityFile: cfg.Connection.IdentityFile,
	}
	info.Credential, err = readPassword(info.Target())
	if err != nil {
		env.Close()
		return nil, err
	}
	err = env.mgr.Connect(ctx, info)
	info.Clear()
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (e *remoteEnv) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	e.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := e.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	e.log.Info().Str("addr", addr).Msg("Serving metrics")
}

// Close cancels transfers, disconnects and releases the bus.
func (e *remoteEnv) Close() {
	if e.coord != nil {
		_ = e.coord.Close(constants.DrainTimeout)
	}
	if e.mgr != nil {
		e.mgr.Disconnect()
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = e.metrics.Shutdown(ctx)
		cancel()
	}
	e.bus.Close()
}
