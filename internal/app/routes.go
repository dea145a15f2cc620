package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
)

func (app *application) routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(app.notFoundResponse)

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(app.recoverPanic)
	r.Use(otelchi.Middleware("reservation-engine", otelchi.WithChiRoutes(r)))

	r.Get("/health", app.GetHealth)

	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", app.CreateReservationHandler)
		r.Get("/status/{temporaryId}", app.GetReservationStatusHandler)

		r.Route("/{reservationId}", func(r chi.Router) {
			r.Get("/", app.GetReservationHandler)
			r.Post("/confirm", app.ConfirmReservationHandler)
			r.Post("/cancel", app.CancelReservationHandler)
			r.Get("/time", app.CheckReservationTimeHandler)
		})
	})

	return r
}
