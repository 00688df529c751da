package ws

import (
	"net/http"

	"go.uber.org/fx"
)

// Module wires the WebSocket transport into the fx application graph and
// exposes its http.Handler under a named value so cmd/fx.go can mount it
// at the configured path without importing this package's concrete type.
var Module = fx.Module("transport-ws",
	fx.Provide(NewHandler),
	fx.Provide(fx.Annotate(
		func(h *Handler) http.Handler { return h },
		fx.ResultTags(`name:"ws_handler"`),
	)),
)
