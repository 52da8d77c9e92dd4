package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goodtune/classlog/internal/analytics"
	"github.com/goodtune/classlog/internal/liveness"
	"github.com/goodtune/classlog/internal/metrics"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/rs/zerolog"
)

// ErrInvalidInput is returned for requests missing required identifiers.
var ErrInvalidInput = errors.New("attendance: invalid input")

// Outcome is the single result communicated for a scan attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeAlreadyMarked    Outcome = "ALREADY_MARKED"
	OutcomeExpired          Outcome = "EXPIRED"
	OutcomeMalformedPayload Outcome = "MALFORMED_PAYLOAD"
	OutcomeUnknownSession   Outcome = "UNKNOWN_SESSION"
	OutcomeSessionInactive  Outcome = "SESSION_INACTIVE"
)

// Message is the user-facing text for an outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeSuccess:
		return "Attendance marked successfully!"
	case OutcomeAlreadyMarked:
		return "Attendance already marked for this session."
	case OutcomeExpired:
		return "This QR code has expired. Ask your teacher for a new code."
	case OutcomeMalformedPayload:
		return "Invalid QR code format."
	case OutcomeUnknownSession:
		return "Invalid QR code session."
	case OutcomeSessionInactive:
		return "This session has ended."
	default:
		return ""
	}
}

func outcomeFor(reason liveness.Reason) Outcome {
	switch reason {
	case liveness.ReasonExpired:
		return OutcomeExpired
	case liveness.ReasonMalformedPayload:
		return OutcomeMalformedPayload
	case liveness.ReasonSessionInactive:
		return OutcomeSessionInactive
	default:
		return OutcomeUnknownSession
	}
}

// Service ties token validation to the attendance log and serves reports.
type Service struct {
	store    storage.Store
	liveness *liveness.Controller
	logger   zerolog.Logger
}

// NewService creates a new attendance service
func NewService(store storage.Store, controller *liveness.Controller, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		liveness: controller,
		logger:   logger.With().Str("component", "attendance").Logger(),
	}
}

func (s *Service) now() time.Time {
	return s.liveness.Clock().Now()
}

// StartSession persists a new session and begins rotating its token.
func (s *Service) StartSession(ctx context.Context, session storage.Session) (*storage.Session, *liveness.RotationHandle, error) {
	session.GroupID = strings.TrimSpace(session.GroupID)
	session.SubjectID = strings.TrimSpace(session.SubjectID)
	if session.GroupID == "" || session.SubjectID == "" {
		return nil, nil, fmt.Errorf("%w: group_id and subject_id are required", ErrInvalidInput)
	}

	// Timestamps come from the rotation clock so the first watermark and the
	// first token agree.
	now := s.now()
	session.CreatedAt = now
	session.LastRenewedAt = now

	created, err := s.store.Sessions().CreateSession(ctx, session)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	handle, err := s.liveness.StartSession(ctx, created.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start rotation: %w", err)
	}

	s.logger.Info().
		Str("session_id", created.ID).
		Str("group_id", created.GroupID).
		Str("subject_id", created.SubjectID).
		Str("teacher_id", created.TeacherID).
		Msg("Session started")

	return created, handle, nil
}

// StopSession ends rotation and closes the session to further scans.
func (s *Service) StopSession(ctx context.Context, sessionID string) error {
	return s.liveness.EndSession(ctx, sessionID)
}

// Scan validates a scanned payload and records the student as present.
// Rejections are reported through the Outcome; only store failures are
// returned as errors.
func (s *Service) Scan(ctx context.Context, studentID, payload string) (Outcome, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return "", fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}

	start := time.Now()
	outcome, err := s.scan(ctx, studentID, payload)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("ERROR").Inc()
		return "", err
	}

	metrics.ScansTotal.WithLabelValues(string(outcome)).Inc()
	metrics.ScanDuration.WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())

	s.logger.Debug().
		Str("student_id", studentID).
		Str("outcome", string(outcome)).
		Msg("Scan processed")

	return outcome, nil
}

func (s *Service) scan(ctx context.Context, studentID, payload string) (Outcome, error) {
	res, err := s.liveness.ValidatePayload(ctx, payload)
	if err != nil {
		return "", err
	}
	if !res.Accepted {
		return outcomeFor(res.Reason), nil
	}

	event := storage.AttendanceEvent{
		StudentID: studentID,
		SessionID: res.Session.ID,
		SubjectID: res.Session.SubjectID,
		Status:    storage.StatusPresent,
	}
	storage.StampEvent(&event, s.now())

	err = s.store.Attendance().RecordAttendance(ctx, event)
	if errors.Is(err, storage.ErrAlreadyMarked) {
		return OutcomeAlreadyMarked, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to record attendance: %w", err)
	}

	return OutcomeSuccess, nil
}

// Mark records or overrides a student's status for a session. It reports
// whether a new event was created.
func (s *Service) Mark(ctx context.Context, studentID, sessionID string, status storage.Status) (bool, error) {
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(sessionID) == "" {
		return false, fmt.Errorf("%w: student id and session id are required", ErrInvalidInput)
	}
	if _, err := storage.ParseStatus(string(status)); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	session, err := s.store.Sessions().GetSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	event := storage.AttendanceEvent{
		StudentID: studentID,
		SessionID: session.ID,
		SubjectID: session.SubjectID,
		Status:    status,
	}
	storage.StampEvent(&event, s.now())

	created, err := s.store.Attendance().MarkAttendance(ctx, event)
	if err != nil {
		return false, fmt.Errorf("failed to mark attendance: %w", err)
	}

	metrics.ManualMarksTotal.WithLabelValues(string(status)).Inc()

	s.logger.Info().
		Str("student_id", studentID).
		Str("session_id", sessionID).
		Str("status", string(status)).
		Bool("created", created).
		Msg("Attendance marked manually")

	return created, nil
}

// StudentReport is a student's history together with per-subject statistics.
type StudentReport struct {
	Student  storage.Student            `json:"student"`
	Events   []storage.AttendanceEvent  `json:"events"`
	Subjects []analytics.SubjectSummary `json:"subjects"`
	Overall  int                        `json:"overall_percentage"`
}

// StudentReport loads everything the analytics engine needs for one student.
func (s *Service) StudentReport(ctx context.Context, studentID string) (*StudentReport, error) {
	student, err := s.store.Students().GetStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load student %s: %w", studentID, err)
	}

	events, err := s.store.Attendance().ListEvents(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}

	sessions, err := s.store.Sessions().ListSessions(ctx, student.GroupID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list group sessions: %w", err)
	}

	return &StudentReport{
		Student:  *student,
		Events:   events,
		Subjects: analytics.ComputeSubjectStats(studentID, student.Subjects, events, analytics.GroupBySubject(sessions)),
		Overall:  analytics.ComputeOverallAttendance(events),
	}, nil
}

// RosterEntry is one student's status in a session. Status is empty when the
// student has not been marked.
type RosterEntry struct {
	StudentID string         `json:"student_id"`
	Name      string         `json:"name,omitempty"`
	Status    storage.Status `json:"status,omitempty"`
	Time      string         `json:"time,omitempty"`
}

// SessionReport summarizes attendance for one session.
type SessionReport struct {
	Session  storage.Session `json:"session"`
	Roster   []RosterEntry   `json:"roster"`
	Present  int             `json:"present"`
	Late     int             `json:"late"`
	Absent   int             `json:"absent"`
	Unmarked int             `json:"unmarked"`
	Average  float64         `json:"average"`
}

// SessionReport joins the group roster with the session's events.
func (s *Service) SessionReport(ctx context.Context, sessionID string) (*SessionReport, error) {
	session, err := s.store.Sessions().GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	students, err := s.store.Students().ListGroupStudents(ctx, session.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group students: %w", err)
	}

	events, err := s.store.Attendance().ListSessionEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session attendance: %w", err)
	}

	byStudent := make(map[string]storage.AttendanceEvent, len(events))
	for _, ev := range events {
		byStudent[ev.StudentID] = ev
	}

	report := &SessionReport{Session: *session, Roster: make([]RosterEntry, 0, len(students))}

	seen := make(map[string]bool, len(students))
	for _, st := range students {
		entry := RosterEntry{StudentID: st.ID, Name: st.Name}
		if ev, ok := byStudent[st.ID]; ok {
			entry.Status = ev.Status
			entry.Time = ev.Time
		}
		report.Roster = append(report.Roster, entry)
		seen[st.ID] = true
	}

	// Students marked in the session but missing from the roster still show up
	var extra []RosterEntry
	for _, ev := range events {
		if !seen[ev.StudentID] {
			extra = append(extra, RosterEntry{StudentID: ev.StudentID, Status: ev.Status, Time: ev.Time})
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].StudentID < extra[j].StudentID })
	report.Roster = append(report.Roster, extra...)

	for _, entry := range report.Roster {
		switch entry.Status {
		case storage.StatusPresent:
			report.Present++
		case storage.StatusLate:
			report.Late++
		case storage.StatusAbsent:
			report.Absent++
		default:
			report.Unmarked++
		}
	}

	report.Average = analytics.SessionAverage(events, len(students))
	return report, nil
}

// SessionSummary is a listed session with its attendance average.
type SessionSummary struct {
	storage.Session
	AvgAttendance float64 `json:"avg_attendance"`
}

// GroupSessions lists a group's sessions, newest first. Empty subjectID or
// teacherID match every session.
func (s *Service) GroupSessions(ctx context.Context, groupID, subjectID, teacherID string) ([]SessionSummary, error) {
	sessions, err := s.store.Sessions().ListSessions(ctx, groupID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group sessions: %w", err)
	}

	students, err := s.store.Students().ListGroupStudents(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group students: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		if teacherID != "" && session.TeacherID != teacherID {
			continue
		}

		events, err := s.store.Attendance().ListSessionEvents(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list attendance for session %s: %w", session.ID, err)
		}

		summaries = append(summaries, SessionSummary{
			Session:       session,
			AvgAttendance: analytics.SessionAverage(events, len(students)),
		})
	}

	return summaries, nil
}

// TeacherAssignments lists the groups and subjects a teacher has run
// sessions for.
func (s *Service) TeacherAssignments(ctx context.Context, teacherID string) ([]storage.Assignment, error) {
	if teacherID == "" {
		return nil, fmt.Errorf("%w: teacher id is required", ErrInvalidInput)
	}
	return s.store.Sessions().ListTeacherAssignments(ctx, teacherID)
}

// GroupStudents lists a group's roster.
func (s *Service) GroupStudents(ctx context.Context, groupID string) ([]storage.Student, error) {
	return s.store.Students().ListGroupStudents(ctx, groupID)
}

// UpsertStudent writes a roster entry.
func (s *Service) UpsertStudent(ctx context.Context, student storage.Student) error {
	student.ID = strings.TrimSpace(student.ID)
	if student.ID == "" {
		return fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}
	student.Subjects = storage.NormalizeSubjects(student.Subjects)
	return s.store.Students().UpsertStudent(ctx, student)
}
