package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/cue/internal/web/handlers"
	"github.com/kozaktomas/cue/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	patientHandler := handlers.NewPatientHandler(s.people, s.resolver)
	caregiverHandler := handlers.NewCaregiverHandler(s.people)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Patient session daemon
		r.Post("/recognize-face", patientHandler.RecognizeFace)
		r.Post("/hud-context", patientHandler.HUDContext)
		r.Get("/whisper/{personId}", patientHandler.Whisper)
		r.Post("/memory/save", patientHandler.SaveMemory)

		// Caregiver panel
		r.Route("/caregiver", func(r chi.Router) {
			r.Use(middleware.RequireCaregiver(s.config.Server.CaregiverToken))

			r.Get("/pending", caregiverHandler.Pending)
			r.Get("/confirmed", caregiverHandler.Confirmed)
			r.Post("/confirm", caregiverHandler.Confirm)
			r.Post("/enroll", caregiverHandler.Enroll)
			r.Put("/person/{id}", caregiverHandler.UpdatePerson)
			r.Delete("/person/{id}", caregiverHandler.DeletePerson)
			r.Get("/person/{id}/memories", caregiverHandler.Memories)
			r.Get("/face-image/{id}", caregiverHandler.FaceImage)
			r.Post("/rebuild-index", caregiverHandler.RebuildIndex)
		})
	})
}
