package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marcus/rem/internal/models"
)

// minRefLen is the shortest local id prefix accepted as a reference.
const minRefLen = 4

// resolveReminder finds a visible reminder by full local id, a unique local
// id prefix, or "#<server id>".
func resolveReminder(rows []models.Reminder, ref string) (models.Reminder, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.Reminder{}, fmt.Errorf("empty reminder reference")
	}
	if n, ok := strings.CutPrefix(ref, "#"); ok {
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil || id <= 0 {
			return models.Reminder{}, fmt.Errorf("invalid server id %q", ref)
		}
		for _, r := range rows {
			if r.ID == id {
				return r, nil
			}
		}
		return models.Reminder{}, fmt.Errorf("reminder %s not found", ref)
	}

	var match *models.Reminder
	for i := range rows {
		if rows[i].LocalID == ref {
			return rows[i], nil
		}
		if len(ref) >= minRefLen && strings.HasPrefix(rows[i].LocalID, ref) {
			if match != nil {
				return models.Reminder{}, fmt.Errorf("reminder %q is ambiguous", ref)
			}
			match = &rows[i]
		}
	}
	if match == nil {
		return models.Reminder{}, fmt.Errorf("reminder %q not found", ref)
	}
	return *match, nil
}
