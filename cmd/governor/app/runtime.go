package app

import (
	"context"

	"github.com/spf13/viper"

	"github.com/wippyhq/registry-governor/internal/bus"
	"github.com/wippyhq/registry-governor/internal/client"
	"github.com/wippyhq/registry-governor/internal/config"
	"github.com/wippyhq/registry-governor/internal/governance"
	"github.com/wippyhq/registry-governor/internal/logger"
	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/processors"
	"github.com/wippyhq/registry-governor/internal/registry"
	"github.com/wippyhq/registry-governor/internal/registry/inmemory"
	"github.com/wippyhq/registry-governor/internal/security"
	"github.com/wippyhq/registry-governor/internal/telemetry"
)

// runtime bundles the wired service: store, bus, coordinator, and client
type runtime struct {
	cfg    *config.Config
	store  registry.Store
	bus    *bus.InProcess
	coord  *governance.Coordinator
	client *client.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// newRuntime wires the governor from configuration and starts the
// coordinator. The embedded in-memory store is seeded with the builtin
// extension entries.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store := inmemory.New()
	store.Seed(processors.Entries()...)

	b := bus.NewInProcess()

	dispatcher := pipeline.NewHandlerRegistry()
	processors.Register(dispatcher)

	var metrics *telemetry.GovernanceMetrics
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewMeterProvider()
		if err != nil {
			return nil, err
		}
		metrics, err = telemetry.NewGovernanceMetrics(provider)
		if err != nil {
			return nil, err
		}
	}

	coord := governance.New(store, b, cfg, dispatcher, governance.WithMetrics(metrics))

	var checker security.Checker = security.AllowAll{}
	if len(cfg.Grants) > 0 {
		checker = security.NewStaticChecker(cfg.Grants)
	}
	cli := client.New(b, checker, client.WithUser(viper.GetString("user")))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := coord.Run(runCtx); err != nil {
			logger.Errorf("Coordinator stopped: %v", err)
		}
	}()

	return &runtime{
		cfg:    cfg,
		store:  store,
		bus:    b,
		coord:  coord,
		client: cli,
		cancel: cancel,
		done:   done,
	}, nil
}

// close stops the coordinator and waits for it to drain
func (r *runtime) close() {
	r.cancel()
	<-r.done
	r.bus.Close()
}

func loadConfig() (*config.Config, error) {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	return config.Load(opts...)
}
