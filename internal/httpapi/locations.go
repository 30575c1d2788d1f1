package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// queryTime parses an RFC 3339 timestamp. Missing yields the zero time.
func queryTime(r *http.Request, key string) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func queryRange(w http.ResponseWriter, r *http.Request) (service.TimeRange, bool) {
	from, ok := queryTime(r, "from")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_query", "from must be an RFC 3339 timestamp", nil)
		return service.TimeRange{}, false
	}
	to, ok := queryTime(r, "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_query", "to must be an RFC 3339 timestamp", nil)
		return service.TimeRange{}, false
	}
	return service.TimeRange{From: from, To: to}, true
}

// handleListLocations serves the newest points, or the points inside
// ?from=&to= oldest first when either bound is given.
func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("from") || q.Has("to") {
		rng, ok := queryRange(w, r)
		if !ok {
			return
		}
		locs, err := s.devices.Route(r.Context(), chi.URLParam(r, "id"), rng)
		if err != nil {
			writeServiceError(w, s.log, "location_route", err)
			return
		}
		if locs == nil {
			locs = []types.LocationRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": locs})
		return
	}

	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer", nil)
		return
	}
	locs, err := s.devices.Locations(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, s.log, "list_locations", err)
		return
	}
	if locs == nil {
		locs = []types.LocationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locs})
}

func (s *Server) handleCurrentLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.devices.CurrentLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, s.log, "current_location", err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleLocationStats(w http.ResponseWriter, r *http.Request) {
	rng, ok := queryRange(w, r)
	if !ok {
		return
	}
	st, err := s.devices.LocationStats(r.Context(), chi.URLParam(r, "id"), rng)
	if err != nil {
		writeServiceError(w, s.log, "location_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
