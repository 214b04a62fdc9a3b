package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable modules receive their section of the "modules" map, e.g.
// modules.backend.httpgen. Without a section Configure is not called.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules fill defaults and resolve shared services (the
// gateway, the access store, the credential store) from the AppContext.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their final configuration. Validate runs after
// Provision and must not have side effects.
type Validator interface {
	Validate() error
}

// Starter modules begin background work: polling loops, listeners.
// Start runs once every module is provisioned, in load order.
type Starter interface {
	Start() error
}

// Stopper modules release what Start acquired. Stop runs in reverse
// start order under a shared deadline.
type Stopper interface {
	Stop(ctx context.Context) error
}
