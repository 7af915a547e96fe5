package migration

import (
	"github.com/feichai0017/migration-orchestrator/config"
	"github.com/feichai0017/migration-orchestrator/internal/catalog"
	"github.com/feichai0017/migration-orchestrator/internal/registry"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

// Engine is a registry loaded with the catalog plus the gateway its runs use.
type Engine struct {
	Catalog  *catalog.Catalog
	Registry *registry.Registry
	Gateway  gateway.Gateway
}

// NewEngine loads the catalog named by run (the embedded one when empty),
// registers its objects and wires the mock gateway behind the resilient
// call policy.
func NewEngine(run config.RunConfig, gw config.GatewayConfig, bus progress.Emitter, log logger.Logger, opts ...registry.Option) (*Engine, error) {
	if log == nil {
		log = logger.NewNop()
	}
	cat, err := catalog.Load(run.CatalogPath)
	if err != nil {
		return nil, err
	}

	reg := registry.New(bus, log, opts...)
	if err := catalog.Install(reg, cat, catalog.NewHookFactory(log), log); err != nil {
		return nil, err
	}

	mock := gateway.NewMock(catalog.FixturesFrom(run.FixturesPath))
	return &Engine{
		Catalog:  cat,
		Registry: reg,
		Gateway:  gateway.NewResilient(mock, gw.Resilient, log),
	}, nil
}
