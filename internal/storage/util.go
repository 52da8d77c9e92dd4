package storage

import (
	"fmt"
	"sort"
	"strings"
)

// SplitSubjects parses a comma-separated subject list, dropping blanks.
func SplitSubjects(s string) []string {
	return NormalizeSubjects(strings.Split(s, ","))
}

// JoinSubjects is the inverse of SplitSubjects.
func JoinSubjects(subjects []string) string {
	return strings.Join(NormalizeSubjects(subjects), ",")
}

// NormalizeSubjects trims every entry and drops empty ones, preserving order.
func NormalizeSubjects(subjects []string) []string {
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SortEventsNewestFirst orders events by MarkedAt descending.
func SortEventsNewestFirst(events []AttendanceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].MarkedAt.After(events[j].MarkedAt)
	})
}

// SortSessionsNewestFirst orders sessions by CreatedAt descending.
func SortSessionsNewestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

// ValidateSessionID rejects identifiers that cannot be embedded in a QR
// payload, which uses "_" as its separator.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidID)
	}
	if strings.Contains(id, "_") {
		return fmt.Errorf("%w: session id %q must not contain '_'", ErrInvalidID, id)
	}
	return ValidateID("session id", id)
}

// ValidateID rejects identifiers containing ':', which separates the parts of
// storage keys.
func ValidateID(field, id string) error {
	if strings.Contains(id, ":") {
		return fmt.Errorf("%w: %s %q must not contain ':'", ErrInvalidID, field, id)
	}
	return nil
}

// ValidateSession checks every identifier of a new session.
func ValidateSession(session Session) error {
	if err := ValidateSessionID(session.ID); err != nil {
		return err
	}
	if err := ValidateID("group id", session.GroupID); err != nil {
		return err
	}
	if err := ValidateID("subject id", session.SubjectID); err != nil {
		return err
	}
	return ValidateID("teacher id", session.TeacherID)
}

// ValidateEvent checks the identifiers of an attendance event.
func ValidateEvent(event AttendanceEvent) error {
	if event.StudentID == "" || event.SessionID == "" {
		return fmt.Errorf("%w: student id and session id are required", ErrInvalidID)
	}
	if err := ValidateID("student id", event.StudentID); err != nil {
		return err
	}
	return ValidateID("session id", event.SessionID)
}

// ValidateStudent checks the identifiers of a roster entry.
func ValidateStudent(student Student) error {
	if student.ID == "" {
		return fmt.Errorf("%w: student id is required", ErrInvalidID)
	}
	if err := ValidateID("student id", student.ID); err != nil {
		return err
	}
	return ValidateID("group id", student.GroupID)
}

// SortAssignments orders assignments by group, then subject.
func SortAssignments(assignments []Assignment) {
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].GroupID != assignments[j].GroupID {
			return assignments[i].GroupID < assignments[j].GroupID
		}
		return assignments[i].SubjectID < assignments[j].SubjectID
	})
}
