package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
)

// pgUniqueViolation is the PostgreSQL error code for unique index violations.
const pgUniqueViolation = "23505"

// allowedEndpointMethods lists the HTTP methods an endpoint template may use.
var allowedEndpointMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// normalizeMethod upper-cases and trims an HTTP method token.
func normalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}

// parseIDParam parses a numeric path parameter.
func parseIDParam(raw string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if errParse != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// parsePageParams reads page and limit query values with defaults and a cap.
func parsePageParams(rawPage, rawLimit string) (page, limit int) {
	page = 1
	limit = 20
	if parsed, errPage := strconv.Atoi(strings.TrimSpace(rawPage)); errPage == nil && parsed > 0 {
		page = parsed
	}
	if parsed, errLimit := strconv.Atoi(strings.TrimSpace(rawLimit)); errLimit == nil && parsed > 0 {
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

// marshalJSON encodes a value into JSON, returning nil for empty inputs.
func marshalJSON(value interface{}) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return datatypes.JSON(data), nil
}

// isDuplicateErr reports whether a database error came from a unique index.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "duplicate") || strings.Contains(message, "unique")
}
