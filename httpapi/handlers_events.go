package httpapi

import (
	"net/http"
	"strconv"
)

const defaultEventPage = 50

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.cfg.Core.ListEvents(0, defaultEventPage)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, toEventDTOs(events))
}

// handleEventsPaginated implements GET /events/paginated?page=&page_size=
// over the event log's dense sequence numbering: page 1 starts at seq 0.
func (s *Server) handleEventsPaginated(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := defaultEventPage
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}

	offset := uint64((page - 1) * pageSize)
	events, err := s.cfg.Core.ListEvents(offset, pageSize)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"page":     page,
		"pageSize": pageSize,
		"events":   toEventDTOs(events),
	})
}
