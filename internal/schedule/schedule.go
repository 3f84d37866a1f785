// Package schedule decides whether a bot may trade at a given instant.
package schedule

import (
	"bot-orchestrator/internal/models"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// IsActive reports whether trading is permitted at now. No schedule means always active,
// an empty window list means never active, and an unknown timezone fails closed.
func IsActive(cfg *models.ScheduleConfig, now time.Time) bool {
	if cfg == nil {
		return true
	}
	if len(cfg.Windows) == 0 {
		return false
	}

	minute, ok := minuteOfDay(cfg.Timezone, now)
	if !ok {
		return false
	}

	for _, w := range cfg.Windows {
		if windowContains(w, minute) {
			return true
		}
	}
	return false
}

func minuteOfDay(timezone string, now time.Time) (int, bool) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return 0, false
		}
		loc = l
	}
	local := now.In(loc)
	return local.Hour()*60 + local.Minute(), true
}

func windowContains(w models.ScheduleWindow, minute int) bool {
	start, ok := parseHHMM(w.Start)
	if !ok {
		return false
	}
	end, ok := parseHHMM(w.End)
	if !ok {
		return false
	}

	switch {
	case start == end:
		return false
	case start < end:
		return minute >= start && minute < end
	default: // wraps midnight
		return minute >= start || minute < end
	}
}

func parseHHMM(s string) (int, bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 || len(m) != 2 {
		return 0, false
	}
	return hour*60 + mins, true
}
