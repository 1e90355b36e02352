// Package handler implements the read-only status API endpoints.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, symbol, since and until from the query
// string. since/until are RFC 3339. Limit defaults to 50 and is capped at
// 500.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  defaultLimit,
		Symbol: strings.ToUpper(strings.TrimSpace(q.Get("symbol"))),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errBadParam("limit")
		}
		opts.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errBadParam("offset")
		}
		opts.Offset = n
	}

	var err error
	if opts.Since, err = parseTime(q.Get("since"), "since"); err != nil {
		return opts, err
	}
	if opts.Until, err = parseTime(q.Get("until"), "until"); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseTime(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errBadParam(name)
	}
	return &t, nil
}

type errBadParam string

func (e errBadParam) Error() string {
	return "invalid query parameter: " + string(e)
}
