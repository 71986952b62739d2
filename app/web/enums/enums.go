// Package enums provides type-safe enumeration types shared by the web
// and runner layers. Values are stored as lowercase strings in the database
// and parsed back with the corresponding Parse functions.
package enums

import (
	"database/sql/driver"
	"fmt"
)

// TaskStatus represents the lifecycle state of a search task.
type TaskStatus int

// task statuses, ordered by lifecycle
const (
	TaskStatusPending TaskStatus = iota
	TaskStatusRunning
	TaskStatusSuccess
	TaskStatusFailed
)

var taskStatusNames = map[TaskStatus]string{
	TaskStatusPending: "pending",
	TaskStatusRunning: "running",
	TaskStatusSuccess: "success",
	TaskStatusFailed:  "failed",
}

// String returns the lowercase string form of the status.
func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("taskStatus(%d)", int(s))
}

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(v string) (TaskStatus, error) {
	for status, name := range taskStatusNames {
		if name == v {
			return status, nil
		}
	}
	return TaskStatusPending, fmt.Errorf("invalid task status %q", v)
}

// MarshalText implements encoding.TextMarshaler
func (s TaskStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (s *TaskStatus) UnmarshalText(data []byte) error {
	parsed, err := ParseTaskStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer for database storage
func (s TaskStatus) Value() (driver.Value, error) { return s.String(), nil }

// Scan implements sql.Scanner for database retrieval
func (s *TaskStatus) Scan(value any) error {
	switch v := value.(type) {
	case string:
		parsed, err := ParseTaskStatus(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		parsed, err := ParseTaskStatus(string(v))
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	default:
		return fmt.Errorf("can't scan task status from %T", value)
	}
}

// FlashCategory tags a one-time message with its severity for styling.
type FlashCategory int

// flash categories, matching the notice styles in the templates
const (
	FlashInfo FlashCategory = iota
	FlashSuccess
	FlashDanger
)

var flashCategoryNames = map[FlashCategory]string{
	FlashInfo:    "info",
	FlashSuccess: "success",
	FlashDanger:  "danger",
}

// String returns the lowercase string form of the category.
func (c FlashCategory) String() string {
	if name, ok := flashCategoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("flashCategory(%d)", int(c))
}

// ParseFlashCategory converts a string to a FlashCategory.
func ParseFlashCategory(v string) (FlashCategory, error) {
	for category, name := range flashCategoryNames {
		if name == v {
			return category, nil
		}
	}
	return FlashInfo, fmt.Errorf("invalid flash category %q", v)
}

// MarshalText implements encoding.TextMarshaler
func (c FlashCategory) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (c *FlashCategory) UnmarshalText(data []byte) error {
	parsed, err := ParseFlashCategory(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
