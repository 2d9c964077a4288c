package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

func NewRouter(h *TriggerHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog)

	r.Get("/health", HealthCheck)

	r.Route("/events/{id}", func(r chi.Router) {
		r.Post("/publish", h.PublishEvent)
		r.Post("/status", h.ChangeStatus)
		r.Post("/override", h.SetOverride)
		r.Post("/cool-off/fire", h.FireCoolOff)
		r.Get("/waitlist", h.PreviewWaitlist)
	})

	r.Post("/waitlist", h.JoinWaitlist)
	r.Post("/waitlist/{id}/priority", h.PrioritizeEntry)
	r.Post("/attendees/{id}/cancel", h.CancelAttendee)
	r.Post("/payments/{ref}/confirm", h.ConfirmPayment)

	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
