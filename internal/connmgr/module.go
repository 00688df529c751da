package connmgr

import (
	"go.uber.org/fx"
)

// Module wires the Connection Manager into the fx application graph.
// Config itself is provided by config.Module, adapted from the process's
// *config.Config (spec's heartbeat P/T and outbound queue depth knobs).
var Module = fx.Module("connmgr",
	fx.Provide(NewManager),
)
