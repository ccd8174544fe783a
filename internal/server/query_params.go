package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/spf13/cast"
)

var errInvalidTime = errors.New("invalid_time")

// Accepted calendar date forms. Order forms filled in by the showroom use
// the German day-first layout.
var dateLayouts = []string{"2006-01-02", "02.01.2006"}

// parseOptionalBool accepts true/false, 1/0 and t/f.
func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := cast.ToBoolE(strings.ToLower(trimmed))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt64(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

// parseOptionalTime reads an RFC 3339 timestamp or a calendar date. A date
// maps to the start of its UTC day, or to its last instant when endOfDay is
// set so that range filters include the whole day.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, trimmed)
		if err != nil {
			continue
		}
		day := clock.Day(parsed)
		if endOfDay {
			day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return &day, nil
	}
	return nil, errInvalidTime
}
