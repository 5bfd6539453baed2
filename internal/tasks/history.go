package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	assigneeUnassigned = "Unassigned"
	statusUnknown      = "N/A"
)

// HistoryEntry is one display-resolved activity log record. ASSIGN_USER ids
// are translated to display names and STATUS_CHANGE tokens are humanized;
// other actions pass their stored payload through for the client to render.
type HistoryEntry struct {
	ID         string     `json:"id"`
	ActionType ActionType `json:"action_type"`
	OldValue   *string    `json:"old_value"`
	NewValue   *string    `json:"new_value"`
	CreatedAt  time.Time  `json:"created_at"`
}

// History returns the task's full audit trail, newest first. It is a
// side-effect-free projection; it works for deleted tasks too, whose log
// entries outlive the task row.
func (s *Service) History(ctx context.Context, taskID uint) ([]HistoryEntry, error) {
	var entries []ActivityLogEntry
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC, entry_id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, s.failure("history", internalError("activity log query failed", err))
	}

	names, err := s.resolveAssignNames(ctx, entries)
	if err != nil {
		return nil, s.failure("history", err)
	}

	history := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		resolved := HistoryEntry{
			ID:         entry.EntryID,
			ActionType: entry.ActionType,
			OldValue:   entry.OldValue,
			NewValue:   entry.NewValue,
			CreatedAt:  entry.CreatedAt,
		}
		switch entry.ActionType {
		case ActionAssignUser:
			resolved.OldValue = pointerTo(displayAssignee(entry.OldValue, names))
			resolved.NewValue = pointerTo(displayAssignee(entry.NewValue, names))
		case ActionStatusChange:
			resolved.OldValue = pointerTo(displayStatus(entry.OldValue))
			resolved.NewValue = pointerTo(displayStatus(entry.NewValue))
		}
		history = append(history, resolved)
	}
	return history, nil
}

// resolveAssignNames collects every user id referenced by ASSIGN_USER entries
// and looks their names up in one call.
func (s *Service) resolveAssignNames(ctx context.Context, entries []ActivityLogEntry) (map[uint]string, error) {
	ids := make([]uint, 0)
	seen := make(map[uint]bool)
	collect := func(value *string) {
		if id, ok := decodeAssigneeValue(value); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, entry := range entries {
		if entry.ActionType != ActionAssignUser {
			continue
		}
		collect(entry.OldValue)
		collect(entry.NewValue)
	}
	if len(ids) == 0 {
		return map[uint]string{}, nil
	}
	names, err := s.directory.DisplayNames(ctx, ids)
	if err != nil {
		return nil, internalError("user lookup failed", err)
	}
	return names, nil
}

func displayAssignee(value *string, names map[uint]string) string {
	id, ok := decodeAssigneeValue(value)
	if !ok {
		return assigneeUnassigned
	}
	if name, found := names[id]; found {
		return name
	}
	return fmt.Sprintf("User #%d", id)
}

// displayStatus renders a stored status token in a human-readable form,
// e.g. "IN_PROGRESS" becomes "In Progress".
func displayStatus(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return statusUnknown
	}
	return humanStatus(*value)
}

func humanStatus(token string) string {
	words := strings.Split(strings.TrimSpace(token), "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}
