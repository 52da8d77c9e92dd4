package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/goodtune/classlog/internal/config"
	"github.com/goodtune/classlog/internal/liveness"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/goodtune/classlog/internal/storage/redis"
	"github.com/rs/zerolog"
)

type testEnv struct {
	service    *Service
	store      *redis.Store
	controller *liveness.Controller
	clock      *clock.Mock
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)

	store, err := redis.Open(config.RedisConfig{
		Host:         mr.Addr(),
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test",
	})
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))

	controller := liveness.New(store.Sessions(), liveness.Config{
		RotationInterval: 10 * time.Second,
		GracePeriod:      time.Second,
		WriteTimeout:     time.Second,
		Clock:            mock,
	}, zerolog.Nop())

	t.Cleanup(func() {
		controller.Shutdown()
		_ = store.Close()
	})

	return &testEnv{
		service:    NewService(store, controller, zerolog.Nop()),
		store:      store,
		controller: controller,
		clock:      mock,
	}
}

// rotate advances the clock by one interval and waits until the new
// watermark has reached the store.
func (e *testEnv) rotate(t *testing.T, h *liveness.RotationHandle) {
	t.Helper()

	e.clock.Add(10 * time.Second)
	want := e.clock.Now().UnixMilli()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := e.store.Sessions().GetSession(context.Background(), h.SessionID())
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if session.WatermarkMillis() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for watermark %d", want)
}

func (e *testEnv) start(t *testing.T, group, subject string) (*storage.Session, *liveness.RotationHandle) {
	t.Helper()

	session, handle, err := e.service.StartSession(context.Background(), storage.Session{
		GroupID:   group,
		SubjectID: subject,
		TeacherID: "t1",
		Name:      subject + " lecture",
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return session, handle
}

func TestScan_SuccessThenAlreadyMarked(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, handle := env.start(t, "g1", "math")

	outcome, err := env.service.Scan(ctx, "stu1", handle.Payload())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("Expected SUCCESS, got %s", outcome)
	}

	env.rotate(t, handle)

	outcome, err = env.service.Scan(ctx, "stu1", handle.Payload())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if outcome != OutcomeAlreadyMarked {
		t.Errorf("Expected ALREADY_MARKED, got %s", outcome)
	}

	events, err := env.store.Attendance().ListSessionEvents(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListSessionEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 event, got %d", len(events))
	}
	if events[0].Status != storage.StatusPresent || events[0].SubjectID != "math" {
		t.Errorf("Unexpected event: %+v", events[0])
	}
	if events[0].Date != "2024-03-04" || events[0].Time != "09:00:00" {
		t.Errorf("Expected stamp 2024-03-04 09:00:00, got %s %s", events[0].Date, events[0].Time)
	}
}

func TestScan_Rejections(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, handle := env.start(t, "g1", "math")
	stale := handle.Payload()
	env.rotate(t, handle)

	closed, closedHandle := env.start(t, "g1", "physics")
	closedPayload := closedHandle.Payload()
	if err := env.service.StopSession(ctx, closed.ID); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	tests := []struct {
		name    string
		payload string
		want    Outcome
	}{
		{"stale token", stale, OutcomeExpired},
		{"no separator", "abc", OutcomeMalformedPayload},
		{"non numeric timestamp", "sess_notanumber", OutcomeMalformedPayload},
		{"unknown session", "nosuchsession_1709542800000", OutcomeUnknownSession},
		{"stopped session", closedPayload, OutcomeSessionInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := env.service.Scan(ctx, "stu1", tt.payload)
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if outcome != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, outcome)
			}
			if outcome.Message() == "" {
				t.Error("Expected a user-facing message")
			}
		})
	}

	events, err := env.store.Attendance().ListEvents(ctx, "stu1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Rejected scans must not record events, got %d", len(events))
	}
}

func TestScan_MissingStudent(t *testing.T) {
	env := setupTestService(t)

	_, err := env.service.Scan(context.Background(), " ", "abc_1")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestStartSession_RequiresGroupAndSubject(t *testing.T) {
	env := setupTestService(t)

	_, _, err := env.service.StartSession(context.Background(), storage.Session{GroupID: "g1"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestMark_Overrides(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, handle := env.start(t, "g1", "math")

	if _, err := env.service.Scan(ctx, "stu1", handle.Payload()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	env.clock.Add(time.Minute)

	created, err := env.service.Mark(ctx, "stu1", session.ID, storage.StatusLate)
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if created {
		t.Error("Expected the scanned event to be overwritten")
	}

	created, err = env.service.Mark(ctx, "stu2", session.ID, storage.StatusAbsent)
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if !created {
		t.Error("Expected a new event for stu2")
	}

	events, err := env.store.Attendance().ListEvents(ctx, "stu1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Status != storage.StatusLate || events[0].Time != "09:01:00" {
		t.Errorf("Expected one late event at 09:01:00, got %+v", events)
	}

	if _, err := env.service.Mark(ctx, "stu1", "missing", storage.StatusPresent); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := env.service.Mark(ctx, "stu1", session.ID, storage.Status("excused")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestStudentReport(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	if err := env.service.UpsertStudent(ctx, storage.Student{
		ID:       "stu1",
		Name:     "Ada",
		GroupID:  "g1",
		Subjects: []string{"math", "art"},
	}); err != nil {
		t.Fatalf("UpsertStudent failed: %v", err)
	}

	// Four math sessions, three attended; one dbms session the student is not
	// enrolled in, attended.
	for i := 0; i < 4; i++ {
		_, h := env.start(t, "g1", "math")
		if i < 3 {
			if _, err := env.service.Scan(ctx, "stu1", h.Payload()); err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
		}
		env.clock.Add(time.Second)
	}
	_, h := env.start(t, "g1", "dbms")
	if _, err := env.service.Scan(ctx, "stu1", h.Payload()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	report, err := env.service.StudentReport(ctx, "stu1")
	if err != nil {
		t.Fatalf("StudentReport failed: %v", err)
	}

	if len(report.Events) != 4 {
		t.Errorf("Expected 4 events, got %d", len(report.Events))
	}
	if report.Overall != 100 {
		t.Errorf("Expected overall 100, got %d", report.Overall)
	}
	if len(report.Subjects) != 3 {
		t.Fatalf("Expected subjects art, dbms, math; got %+v", report.Subjects)
	}

	art, dbms, math := report.Subjects[0], report.Subjects[1], report.Subjects[2]
	if art.Subject != "art" || art.TotalSessions != 0 || art.Percentage != 0 {
		t.Errorf("Unexpected art summary: %+v", art)
	}
	if dbms.Subject != "dbms" || dbms.TotalSessions != 1 || dbms.AttendedSessions != 1 {
		t.Errorf("Unexpected dbms summary: %+v", dbms)
	}
	if math.Subject != "math" || math.TotalSessions != 4 || math.AttendedSessions != 3 || math.Percentage != 75 {
		t.Errorf("Unexpected math summary: %+v", math)
	}

	if _, err := env.service.StudentReport(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionReport(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	for _, st := range []storage.Student{
		{ID: "a", Name: "Ada", GroupID: "g1"},
		{ID: "b", Name: "Bob", GroupID: "g1"},
		{ID: "c", Name: "Cy", GroupID: "g1"},
		{ID: "d", Name: "Di", GroupID: "g1"},
	} {
		if err := env.service.UpsertStudent(ctx, st); err != nil {
			t.Fatalf("UpsertStudent failed: %v", err)
		}
	}

	session, handle := env.start(t, "g1", "math")

	for _, id := range []string{"a", "b", "visitor"} {
		if _, err := env.service.Scan(ctx, id, handle.Payload()); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
	}
	if _, err := env.service.Mark(ctx, "c", session.ID, storage.StatusLate); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	report, err := env.service.SessionReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("SessionReport failed: %v", err)
	}

	if len(report.Roster) != 5 {
		t.Fatalf("Expected 4 roster entries plus 1 visitor, got %d", len(report.Roster))
	}
	if report.Roster[4].StudentID != "visitor" {
		t.Errorf("Expected visitor last, got %s", report.Roster[4].StudentID)
	}
	if report.Present != 3 || report.Late != 1 || report.Unmarked != 1 {
		t.Errorf("Unexpected counts: present=%d late=%d unmarked=%d", report.Present, report.Late, report.Unmarked)
	}
	// 3 present events over a group of 4
	if report.Average != 75 {
		t.Errorf("Expected average 75, got %v", report.Average)
	}
}

func TestGroupSessions_FilterAndAverage(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	for _, st := range []storage.Student{
		{ID: "a", Name: "Ada", GroupID: "g1"},
		{ID: "b", Name: "Bob", GroupID: "g1"},
	} {
		if err := env.service.UpsertStudent(ctx, st); err != nil {
			t.Fatalf("UpsertStudent failed: %v", err)
		}
	}

	math, _ := env.start(t, "g1", "math")
	if _, err := env.service.Mark(ctx, "a", math.ID, storage.StatusPresent); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	env.clock.Add(time.Minute)
	physics, _, err := env.service.StartSession(ctx, storage.Session{GroupID: "g1", SubjectID: "physics", TeacherID: "t2"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := env.service.Mark(ctx, id, physics.ID, storage.StatusPresent); err != nil {
			t.Fatalf("Mark failed: %v", err)
		}
	}

	tests := []struct {
		name     string
		subject  string
		teacher  string
		expected map[string]float64
	}{
		{"all", "", "", map[string]float64{math.ID: 50, physics.ID: 100}},
		{"by subject", "math", "", map[string]float64{math.ID: 50}},
		{"by teacher", "", "t2", map[string]float64{physics.ID: 100}},
		{"no match", "math", "t2", map[string]float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summaries, err := env.service.GroupSessions(ctx, "g1", tt.subject, tt.teacher)
			if err != nil {
				t.Fatalf("GroupSessions failed: %v", err)
			}
			if len(summaries) != len(tt.expected) {
				t.Fatalf("Expected %d sessions, got %d", len(tt.expected), len(summaries))
			}
			for _, summary := range summaries {
				want, ok := tt.expected[summary.ID]
				if !ok {
					t.Errorf("Unexpected session %s", summary.ID)
					continue
				}
				if summary.AvgAttendance != want {
					t.Errorf("Expected avg_attendance %v for %s, got %v", want, summary.SubjectID, summary.AvgAttendance)
				}
			}
		})
	}
}

func TestTeacherAssignments(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	env.start(t, "g2", "math")
	env.start(t, "g1", "physics")
	env.start(t, "g1", "physics")
	if _, _, err := env.service.StartSession(ctx, storage.Session{GroupID: "g3", SubjectID: "art", TeacherID: "t2"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	assignments, err := env.service.TeacherAssignments(ctx, "t1")
	if err != nil {
		t.Fatalf("TeacherAssignments failed: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("Expected 2 assignments, got %v", assignments)
	}
	if assignments[0] != (storage.Assignment{GroupID: "g1", SubjectID: "physics"}) {
		t.Errorf("Expected g1/physics first, got %v", assignments[0])
	}
	if assignments[1] != (storage.Assignment{GroupID: "g2", SubjectID: "math"}) {
		t.Errorf("Expected g2/math second, got %v", assignments[1])
	}

	if _, err := env.service.TeacherAssignments(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
