package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"

	api "github.com/oshokin/flatstore/internal/api/grpc/installer"
	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/logger"
	"github.com/oshokin/flatstore/internal/notify"
	pb "github.com/oshokin/flatstore/internal/pb/v1"
	"github.com/oshokin/flatstore/internal/process"
	repository "github.com/oshokin/flatstore/internal/repository/journal"
	"github.com/oshokin/flatstore/internal/service/fetcher"
	"github.com/oshokin/flatstore/internal/service/installer"
)

// Options controls the flatstore-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// JournalFile overrides the journal path from the settings.
	JournalFile string
	// LogLevel overrides the log level from the settings.
	LogLevel string
	// Ready, when set, receives the bound address once the server accepts connections.
	Ready chan<- string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// errUnknownLogLevel is returned for log levels zap does not know.
var errUnknownLogLevel = errors.New("unknown log level")

// Run starts the gRPC server and blocks until context is canceled or server stops.
// Loads configuration first, then determines listen address from config or override.
//
//nolint:funlen // Wiring reads best top to bottom.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "flatstore-server")

	// Load configuration first to get server settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = applyLogLevel(settings.LogLevel, opts.LogLevel); err != nil {
		return err
	}

	// Use JournalFile from config unless overridden by command line option.
	journalFile := settings.JournalFile
	if opts.JournalFile != "" {
		journalFile = opts.JournalFile
	}

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	descriptorFetcher, err := fetcher.New(settings)
	if err != nil {
		return fmt.Errorf("initialise fetcher: %w", err)
	}

	runner := process.NewExecRunner(
		process.WithKillGrace(settings.KillGrace),
		process.WithPTY(settings.UsePTY),
		process.WithEnv(settings.InstallerEnv...),
	)

	supervisor, err := installer.New(settings, descriptorFetcher, runner)
	if err != nil {
		return fmt.Errorf("initialise supervisor: %w", err)
	}

	hub := notify.NewHub(
		notify.WithReplaySize(settings.ReplaySize),
		notify.WithLocale(settings.Locale),
	)
	svc := newService(
		supervisor,
		hub,
		repository.NewFileRepository(journalFile),
		settings.Installer,
		settings.Locale,
	)

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		hub.Close()
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterInstallerServiceServer(grpcServer, api.NewServer(svc, settings.Locale))

	logger.InfoKV(ctx, "Flatstore server listening",
		"listen_address", lis.Addr().String(),
		"repository_url", settings.RepositoryURL,
		"installer", settings.Installer,
		"journal_file", journalFile,
	)

	if opts.Ready != nil {
		opts.Ready <- lis.Addr().String()
	}

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")

		// Watch streams only end when the hub closes.
		hub.Close()
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// applyLogLevel sets the global log level; override wins over configured.
func applyLogLevel(configured, override string) error {
	level := configured
	if override != "" {
		level = override
	}

	if level == "" {
		return nil
	}

	parsed, ok := logger.ParseLogLevel(level)
	if !ok {
		return fmt.Errorf("%q: %w", level, errUnknownLogLevel)
	}

	logger.SetLevel(parsed)

	return nil
}

// resolveListenAddress determines the listen address for the gRPC server.
// An override is used as is; otherwise the configured address is used, so a
// loopback address keeps the daemon private to this host.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	if _, _, err := net.SplitHostPort(configAddr); err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return configAddr, nil
}
