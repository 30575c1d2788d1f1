package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req types.DeviceRegistration
	if err := decodeJSONStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}

	rec, created, err := s.agents.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.log, "register_agent", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, rec)
}

func (s *Server) handleFetchCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.agents.Fetch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, s.log, "fetch_commands", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

func (s *Server) handleCompleteCommand(w http.ResponseWriter, r *http.Request) {
	var rep service.CompletionReport
	if err := decodeJSONStrict(r, &rep); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}

	res, err := s.agents.Complete(chi.URLParam(r, "requestId"), rep)
	if err != nil {
		writeServiceError(w, s.log, "complete_command", err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionView{
		Status:     res.Status,
		Response:   res.Response,
		ResolvedAt: res.ResolvedAt,
		Reason:     res.Reason,
	})
}
