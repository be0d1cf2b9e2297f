package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentmux/agentmux/internal/afterwork"
	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/common/tracing"
	"github.com/agentmux/agentmux/internal/events"
	"github.com/agentmux/agentmux/internal/mesh"
	"github.com/agentmux/agentmux/internal/monitor"
	"github.com/agentmux/agentmux/internal/server"
	"github.com/agentmux/agentmux/internal/sse"
	"github.com/agentmux/agentmux/internal/store"
	"github.com/agentmux/agentmux/internal/terminal"
)

// shutdownGrace bounds how long in-flight requests may linger on shutdown.
const shutdownGrace = 10 * time.Second

// Run starts the daemon and blocks until ctx is cancelled or the listener
// fails. The PID lock is taken before the port bind so two daemons racing
// for the same database lose at the lock, not at the socket.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	pidFile, err := AcquirePIDFile(cfg.PIDFilePath())
	if err != nil {
		return err
	}
	defer pidFile.Release()

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	provided, cleanupBus, err := events.Provide(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = cleanupBus() }()

	hub := sse.NewHub(log)
	if err := hub.Attach(provided.Bus); err != nil {
		return err
	}
	hub.Start()
	defer hub.Stop()

	mon := monitor.NewMonitor(st, provided.Bus, cfg.Monitor, log)
	driver := terminal.NewDriver(log)

	srv := server.NewServer(cfg.Server, server.Deps{
		Store:     st,
		Bus:       provided.Bus,
		Hub:       hub,
		Monitor:   mon,
		Mesh:      mesh.NewRouter(st, driver, log),
		Afterwork: afterwork.NewRouter(st, driver, log),
		Terminal:  driver,
		Logger:    log,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mon.Start(runCtx)
	defer mon.Stop()

	log.Info("agentmux daemon listening",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("database", cfg.Database.Path),
		zap.String("pid_file", pidFile.Path()))

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("agentmux daemon shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()

	if terr := tracing.Shutdown(context.Background()); terr != nil {
		log.Error("Tracing shutdown error", zap.Error(terr))
	}
	return err
}
