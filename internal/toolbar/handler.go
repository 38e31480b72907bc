package toolbar

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/szibis/request-toolbar/internal/cache"
	"github.com/szibis/request-toolbar/internal/logging"
)

// SnapshotHandler serves GET <prefix>/requests/{id} with the cached snapshot JSON.
func (tb *Toolbar) SnapshotHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+tb.prefix+"/requests/{id}", tb.serveSnapshot)
	return mux
}

func (tb *Toolbar) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if tb.cache == nil {
		snapshotLookups.WithLabelValues(strconv.Itoa(http.StatusNotFound)).Inc()
		http.Error(w, "Snapshot cache disabled", http.StatusNotFound)
		return
	}

	data, err := tb.cache.Get(r.Context(), id)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		snapshotLookups.WithLabelValues(strconv.Itoa(http.StatusNotFound)).Inc()
		http.Error(w, "Snapshot not found", http.StatusNotFound)
		return
	case err != nil:
		snapshotLookups.WithLabelValues(strconv.Itoa(http.StatusInternalServerError)).Inc()
		logging.Error("snapshot cache read failed", logging.F("snapshot_id", id, "error", err.Error()))
		http.Error(w, "Failed to read snapshot", http.StatusInternalServerError)
		return
	}

	snapshotLookups.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
