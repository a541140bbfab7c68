package api

import (
    "net/http"
    "time"

    "fleetsim/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build":    buildinfo.Info(),
        "time":     time.Now().UTC().Format(time.RFC3339),
        "config":   s.Config.Redacted(),
        "sessions": s.Sessions.Len(),
    }
    if s.Cache != nil {
        if matrices, pairs, err := s.Cache.Len(r.Context()); err == nil {
            info["cache"] = map[string]int{"matrices": matrices, "pairs": pairs}
        }
    }
    writeJSON(w, http.StatusOK, info)
}
