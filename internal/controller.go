package internal

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/romgate/internal/core"
	"github.com/dcrodman/romgate/internal/core/auth"
	"github.com/dcrodman/romgate/internal/core/data"
	"github.com/dcrodman/romgate/internal/core/debug"
	"github.com/dcrodman/romgate/internal/gate"
	"github.com/dcrodman/romgate/internal/ratelimit"
	"github.com/dcrodman/romgate/internal/registry"
	"github.com/dcrodman/romgate/internal/vault"
)

// Controller is the main entrypoint for romgate. It's responsible for
// initializing the shared resources (database, logging, the client registry,
// and the rate limiter), defining the server, and launching everything.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	db     *gorm.DB
	wg     sync.WaitGroup

	servers []*frontend
}

func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	var err error
	// Set up the logger, which will be used by all sub-servers.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return err
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		debug.StartPprofServer(c.logger, c.Config.Debugging.PprofPort)
	}

	dataSource := c.Config.Database.File
	if c.Config.Database.Engine == data.EnginePostgres {
		dataSource = c.Config.DatabaseURL()
	}
	c.db, err = data.Initialize(
		c.Config.Database.Engine,
		dataSource,
		c.Config.Debugging.DatabaseLoggingEnabled,
	)
	if err != nil {
		return err
	}

	// Clear presence flags left over from an unclean shutdown so those
	// accounts aren't locked out of logging back in.
	if err := data.ResetPresence(c.db); err != nil {
		return err
	}

	c.declareServers()
	c.run(ctx)
	return nil
}

// Set up the servers we want to run.
func (c *Controller) declareServers() {
	reg := registry.New(c.logger)
	limiter := ratelimit.New(ratelimit.Config{
		Enabled:     c.Config.RateLimiter.Enabled,
		MaxRequests: c.Config.RateLimiter.MaxRequests,
		TimeWindow:  c.Config.WindowDuration(),
		BanDuration: c.Config.BanDuration(),
	})

	c.servers = []*frontend{
		{
			Address: c.Config.ListenAddress(),
			Backend: &gate.Server{
				Name:     "GATE",
				Config:   c.Config,
				Logger:   c.logger,
				Users:    auth.NewService(c.db, c.logger),
				Vault:    vault.New(c.Config.Vault.RomDir, c.Config.Vault.InfoDir),
				Registry: reg,
				Limiter:  limiter,
			},
			Config:   c.Config,
			Logger:   c.logger,
			Registry: reg,
			Limiter:  limiter,
		},
	}
}

func (c *Controller) run(ctx context.Context) {
	// Start all of our servers. Failure to initialize one of the registered
	// servers is considered terminal.
	for _, server := range c.servers {
		if err := server.Start(ctx, &c.wg); err != nil {
			c.logger.Errorf("error starting %s server: %v", server.Backend.Identifier(), err)
			return
		}
	}

	c.wg.Wait()
}

func (c *Controller) Shutdown() {
	c.wg.Wait()
	if c.db != nil {
		if err := data.Shutdown(c.db); err != nil {
			c.logger.Warnf("error closing database: %s", err)
		}
	}
}
