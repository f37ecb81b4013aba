package controller

import (
	"errors"
	"net/http"
	"strconv"
)

const (
	defaultPollsLimit = 50
	maxPollsLimit     = 500
)

func parsePollsQuery(r *http.Request) (limit int, err error) {
	limit = defaultPollsLimit
	s := r.URL.Query().Get("limit")
	if s == "" {
		return limit, nil
	}
	n, convErr := strconv.Atoi(s)
	if convErr != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxPollsLimit {
		return 0, errors.New("'limit' must be <= 500")
	}
	return n, nil
}
