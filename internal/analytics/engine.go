// Package analytics turns the attendance log into per-subject statistics.
// Every function here is pure.
package analytics

import (
	"math"
	"sort"
	"strings"

	"github.com/goodtune/classlog/internal/storage"
)

// NoSubjectsPlaceholder names the single entry returned when a student has no
// declared subjects and their group has no sessions.
const NoSubjectsPlaceholder = "No subjects assigned"

// SubjectSummary is the attendance breakdown for one subject.
type SubjectSummary struct {
	Subject            string `json:"subject"`
	TotalSessions      int    `json:"total_sessions"`
	AttendedSessions   int    `json:"attended_sessions"`
	Percentage         int    `json:"percentage"`
	ClassesNeededFor75 int    `json:"classes_needed_for_75"`
	ClassesCanSkip     int    `json:"classes_can_skip"`
}

// Summarize computes the statistics for one subject.
//
// ClassesNeededFor75 is the smallest X with (attended+X)/total >= 0.75 while
// total stays fixed. ClassesCanSkip is only non-zero when the student is at or
// above 75%. Both use integer arithmetic on 4*attended and 3*total to avoid
// float rounding at the boundary.
func Summarize(total, attended int) SubjectSummary {
	s := SubjectSummary{TotalSessions: total, AttendedSessions: attended}
	if total <= 0 {
		return s
	}

	s.Percentage = Percentage(attended, total)

	// ceil(0.75*total - attended) == ceil((3*total - 4*attended) / 4)
	if deficit := 3*total - 4*attended; deficit > 0 {
		s.ClassesNeededFor75 = ceilDiv(deficit, 4)
	}

	// floor((attended - 0.75*total) / 0.75) == floor((4*attended - 3*total) / 3)
	if surplus := 4*attended - 3*total; surplus >= 0 {
		s.ClassesCanSkip = surplus / 3
	}

	return s
}

// Percentage returns round(100 * part / whole), or 0 when whole is 0.
func Percentage(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

// ComputeSubjectStats builds one summary per subject known for a student: the
// union of the declared subjects and every subject with a session in the
// student's group. An attended event counts towards its session's subject even
// when that session belongs to another group, so a student who changed groups
// keeps earlier attendance. Results are sorted by subject name.
func ComputeSubjectStats(studentID string, declaredSubjects []string, events []storage.AttendanceEvent, sessionsBySubject map[string][]storage.Session) []SubjectSummary {
	subjects := make(map[string]struct{})
	for _, s := range storage.NormalizeSubjects(declaredSubjects) {
		subjects[s] = struct{}{}
	}

	totals := make(map[string]int)
	sessionSubject := make(map[string]string)
	for subject, sessions := range sessionsBySubject {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}
		subjects[subject] = struct{}{}
		totals[subject] += len(sessions)
		for _, session := range sessions {
			sessionSubject[session.ID] = subject
		}
	}

	if len(subjects) == 0 {
		return []SubjectSummary{{Subject: NoSubjectsPlaceholder}}
	}

	attended := make(map[string]int)
	for _, ev := range events {
		if ev.StudentID != studentID || !ev.Status.Attended() {
			continue
		}
		subject := strings.TrimSpace(ev.SubjectID)
		if subject == "" {
			subject = sessionSubject[ev.SessionID]
		}
		if subject != "" {
			attended[subject]++
		}
	}

	out := make([]SubjectSummary, 0, len(subjects))
	for subject := range subjects {
		s := Summarize(totals[subject], attended[subject])
		s.Subject = subject
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// ComputeOverallAttendance is the share of events with an attended status.
func ComputeOverallAttendance(events []storage.AttendanceEvent) int {
	attended := 0
	for _, ev := range events {
		if ev.Status.Attended() {
			attended++
		}
	}
	return Percentage(attended, len(events))
}

// SessionAverage is the percentage of a group marked present in one session.
// Late students are not counted as present here.
func SessionAverage(events []storage.AttendanceEvent, groupSize int) float64 {
	if groupSize <= 0 {
		return 0
	}

	present := 0
	for _, ev := range events {
		if ev.Status == storage.StatusPresent {
			present++
		}
	}

	avg := 100 * float64(present) / float64(groupSize)
	return math.Round(avg*100) / 100
}

// GroupBySubject indexes sessions by their subject id.
func GroupBySubject(sessions []storage.Session) map[string][]storage.Session {
	out := make(map[string][]storage.Session)
	for _, s := range sessions {
		out[s.SubjectID] = append(out[s.SubjectID], s)
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
