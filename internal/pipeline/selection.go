package pipeline

import (
	"fmt"
	"strings"
)

// Mode names a candidate selection strategy.
type Mode string

const (
	// ModeIDs selects an explicit list of content ids.
	ModeIDs Mode = "ids"
	// ModeMissing selects records that have no snapshot yet.
	ModeMissing Mode = "missing"
	// ModeRecent selects records published within a lookback window.
	ModeRecent Mode = "recent"
)

// ParseMode maps a config or flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeIDs, ModeMissing, ModeRecent:
		return m, nil
	default:
		return "", fmt.Errorf("unknown selection mode %q (want ids, missing or recent)", s)
	}
}

// Selection is the tagged selection policy of a run. Only the fields of the
// chosen Mode are read.
type Selection struct {
	Mode     Mode
	IDs      []int64
	Limit    int
	ClientID *int64
	DaysBack int
}

// Validate checks that the fields required by Mode are present.
func (s Selection) Validate() error {
	switch s.Mode {
	case ModeIDs:
		if len(s.IDs) == 0 {
			return fmt.Errorf("ids selection needs at least one id")
		}
	case ModeMissing:
		if s.Limit <= 0 {
			return fmt.Errorf("missing selection needs a positive limit, got %d", s.Limit)
		}
	case ModeRecent:
		if s.DaysBack <= 0 {
			return fmt.Errorf("recent selection needs positive days back, got %d", s.DaysBack)
		}
	default:
		return fmt.Errorf("unknown selection mode %q", s.Mode)
	}
	return nil
}

// ChangeDetection reports whether unchanged totals skip the write. Only the
// recurring refresh compares against the prior snapshot.
func (s Selection) ChangeDetection() bool {
	return s.Mode == ModeRecent
}

func (s Selection) String() string {
	switch s.Mode {
	case ModeIDs:
		return fmt.Sprintf("ids %v", s.IDs)
	case ModeMissing:
		if s.ClientID != nil {
			return fmt.Sprintf("missing (limit %d, client %d)", s.Limit, *s.ClientID)
		}
		return fmt.Sprintf("missing (limit %d)", s.Limit)
	case ModeRecent:
		return fmt.Sprintf("recent (%d days)", s.DaysBack)
	default:
		return string(s.Mode)
	}
}
