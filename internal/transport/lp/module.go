package lp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

// Module wires the long-poll transport into the fx application graph and
// exposes its chi.Router under a named value for cmd/fx.go to mount.
var Module = fx.Module("transport-lp",
	fx.Provide(NewHandler),
	fx.Provide(fx.Annotate(
		func(h *Handler) http.Handler {
			r := chi.NewRouter()
			r.Get("/poll", h.Poll)
			r.Post("/command", h.Command)
			return r
		},
		fx.ResultTags(`name:"lp_handler"`),
	)),
)
