package httpapi

import "net/http"

func (s *Server) handlePassengerActive(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	rides, err := s.Reports.PassengerActiveRides(r.Context(), id.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handlePassengerHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	rides, err := s.Reports.PassengerHistory(r.Context(), id.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}
