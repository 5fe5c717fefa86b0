package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joisarv/civic/internal/classify"
	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/notify"
	"github.com/joisarv/civic/internal/store"
)

// fakeGate returns a canned decision without touching a classifier.
type fakeGate struct {
	decision *classify.Decision
	err      error
}

func (g *fakeGate) Evaluate(ctx context.Context, image []byte, mediaType string) (*classify.Decision, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.decision, nil
}

// fakeNotifier records every message it is asked to send.
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []notify.Message
	failWith error
}

func (n *fakeNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func acceptGate(t *testing.T, s store.Store, deptName string, confidence float64) *fakeGate {
	t.Helper()
	dept, err := s.GetDepartmentByName(context.Background(), deptName)
	require.NoError(t, err)
	return &fakeGate{decision: &classify.Decision{
		Department: dept,
		Label:      deptName,
		Confidence: confidence,
	}}
}

func validIntake() IntakeRequest {
	return IntakeRequest{
		Image:         []byte("fake image bytes"),
		MediaType:     "image/jpeg",
		ImageRef:      "ref_pothole.jpg",
		ReporterEmail: "citizen@example.com",
		Address:       "42 Elm Street",
	}
}

func TestIntake_Accepted(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{}
	e := New(s, acceptGate(t, s, "Public Works", 0.92), n, nil)

	result, err := e.Intake(context.Background(), validIntake())
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, "Public Works", result.Department)
	assert.Len(t, result.TrackingCode, 8)

	issue, err := s.GetIssue(context.Background(), result.Issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusPending, issue.Status)
	assert.Equal(t, "Public Works", issue.Department)

	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "public-works@city.example.gov", msgs[0].To)
	assert.Contains(t, msgs[0].Subject, "Public Works")
}

func TestIntake_Rejected(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{}
	gate := &fakeGate{decision: &classify.Decision{Label: classify.LabelNoIssue, Confidence: 0.95}}
	e := New(s, gate, n, nil)

	result, err := e.Intake(context.Background(), validIntake())
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.NotEmpty(t, result.TrackingCode, "rejected reports still get a tracking code")

	issue, err := s.GetIssueByTrackingCode(context.Background(), result.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusRejected, issue.Status)
	assert.Equal(t, models.DepartmentInvalid, issue.Department)

	assert.Empty(t, n.messages(), "no department email for a rejected report")
}

func TestIntake_Validation(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Public Works", 0.9), &fakeNotifier{}, nil)
	ctx := context.Background()

	var validation *models.ValidationError

	req := validIntake()
	req.Image = nil
	_, err := e.Intake(ctx, req)
	assert.ErrorAs(t, err, &validation)

	req = validIntake()
	req.ReporterEmail = "not-an-email"
	_, err = e.Intake(ctx, req)
	assert.ErrorAs(t, err, &validation)

	req = validIntake()
	req.Address = "  "
	_, err = e.Intake(ctx, req)
	assert.ErrorAs(t, err, &validation)
}

func TestIntake_NotificationFailureIsNotFatal(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{failWith: fmt.Errorf("smtp down")}
	e := New(s, acceptGate(t, s, "Public Works", 0.9), n, nil)

	result, err := e.Intake(context.Background(), validIntake())
	require.NoError(t, err)
	assert.True(t, result.Accepted)
}

func submitAccepted(t *testing.T, e *Engine) *models.Issue {
	t.Helper()
	result, err := e.Intake(context.Background(), validIntake())
	require.NoError(t, err)
	require.True(t, result.Accepted)
	return result.Issue
}

func TestCommitDuration(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Public Works", 0.9), &fakeNotifier{}, nil)
	ctx := context.Background()
	issue := submitAccepted(t, e)

	_, err := e.CommitDuration(ctx, issue.ID, 0)
	var validation *models.ValidationError
	assert.ErrorAs(t, err, &validation)

	updated, err := e.CommitDuration(ctx, issue.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusInProgress, updated.Status)
	assert.Equal(t, 3, updated.TotalDays)
	assert.Equal(t, 0, updated.CurrentDay)

	// Committing again is illegal, not an overwrite
	_, err = e.CommitDuration(ctx, issue.ID, 5)
	var illegal *models.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Contains(t, err.Error(), "exactly once")
}

func TestPostDayUpdate_Sequencing(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Public Works", 0.9), &fakeNotifier{}, nil)
	ctx := context.Background()
	issue := submitAccepted(t, e)

	// Updates before a committed duration are illegal
	_, err := e.PostDayUpdate(ctx, issue.ID, 1, "too early")
	var illegal *models.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)

	_, err = e.CommitDuration(ctx, issue.ID, 3)
	require.NoError(t, err)

	// Day 2 first: sequence violation naming the expected day
	_, err = e.PostDayUpdate(ctx, issue.ID, 2, "skipping")
	var seq *models.SequenceViolationError
	require.ErrorAs(t, err, &seq)
	assert.Equal(t, 1, seq.Expected)
	assert.Equal(t, 2, seq.Got)

	updated, err := e.PostDayUpdate(ctx, issue.ID, 1, "excavated the site")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentDay)
	require.Len(t, updated.DayLog, 1)
	assert.Equal(t, "excavated the site", updated.DayLog[0].Description)

	// Repeating day 1 is also a violation, now expecting day 2
	_, err = e.PostDayUpdate(ctx, issue.ID, 1, "again")
	require.ErrorAs(t, err, &seq)
	assert.Equal(t, 2, seq.Expected)

	// Empty description rejected
	_, err = e.PostDayUpdate(ctx, issue.ID, 2, "   ")
	var validation *models.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestResolve_RequiresAllDaysLogged(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Public Works", 0.9), &fakeNotifier{}, nil)
	ctx := context.Background()
	issue := submitAccepted(t, e)
	_, err := e.CommitDuration(ctx, issue.ID, 2)
	require.NoError(t, err)
	_, err = e.PostDayUpdate(ctx, issue.ID, 1, "day one")
	require.NoError(t, err)

	_, err = e.Resolve(ctx, issue.ID, DecisionResolved, 0)
	var illegal *models.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Contains(t, err.Error(), "day 2 of 2")

	_, err = e.PostDayUpdate(ctx, issue.ID, 2, "day two")
	require.NoError(t, err)

	updated, err := e.Resolve(ctx, issue.ID, DecisionResolved, 0)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusResolved, updated.Status)

	// Terminal: no further transitions
	_, err = e.PostDayUpdate(ctx, issue.ID, 3, "post-resolve")
	assert.ErrorAs(t, err, &illegal)
	_, err = e.Resolve(ctx, issue.ID, DecisionResolved, 0)
	assert.ErrorAs(t, err, &illegal)
}

func TestResolve_Extend(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{}
	e := New(s, acceptGate(t, s, "Public Works", 0.9), n, nil)
	ctx := context.Background()
	issue := submitAccepted(t, e)
	_, err := e.CommitDuration(ctx, issue.ID, 2)
	require.NoError(t, err)
	_, err = e.PostDayUpdate(ctx, issue.ID, 1, "day one")
	require.NoError(t, err)
	_, err = e.PostDayUpdate(ctx, issue.ID, 2, "day two")
	require.NoError(t, err)

	before := len(n.messages())

	updated, err := e.Resolve(ctx, issue.ID, DecisionExtend, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.TotalDays)
	assert.Equal(t, 2, updated.CurrentDay, "extension must not touch progress")
	assert.Len(t, updated.DayLog, 2, "extension must not touch the day log")
	assert.Equal(t, models.IssueStatusInProgress, updated.Status)

	// Reporter gets the apology
	msgs := n.messages()
	require.Len(t, msgs, before+1)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "citizen@example.com", last.To)

	// The extra days can now be logged and the issue resolved
	_, err = e.PostDayUpdate(ctx, issue.ID, 3, "day three")
	require.NoError(t, err)
	_, err = e.PostDayUpdate(ctx, issue.ID, 4, "day four")
	require.NoError(t, err)
	final, err := e.Resolve(ctx, issue.ID, DecisionResolved, 0)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusResolved, final.Status)
}

func TestResolve_ExtendValidation(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Public Works", 0.9), &fakeNotifier{}, nil)
	ctx := context.Background()
	issue := submitAccepted(t, e)
	_, err := e.CommitDuration(ctx, issue.ID, 2)
	require.NoError(t, err)

	var validation *models.ValidationError
	_, err = e.Resolve(ctx, issue.ID, DecisionExtend, 0)
	assert.ErrorAs(t, err, &validation)

	_, err = e.Resolve(ctx, issue.ID, Decision("bogus"), 0)
	assert.ErrorAs(t, err, &validation)
}

func TestFullLifecycle(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Water Department", 0.88), &fakeNotifier{}, nil)
	ctx := context.Background()

	result, err := e.Intake(ctx, validIntake())
	require.NoError(t, err)
	issue := result.Issue

	const days = 4
	_, err = e.CommitDuration(ctx, issue.ID, days)
	require.NoError(t, err)

	for d := 1; d <= days; d++ {
		updated, err := e.PostDayUpdate(ctx, issue.ID, d, fmt.Sprintf("work on day %d", d))
		require.NoError(t, err)
		assert.Equal(t, d, updated.CurrentDay)
	}

	final, err := e.Resolve(ctx, issue.ID, DecisionResolved, 0)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusResolved, final.Status)
	require.Len(t, final.DayLog, days)
	for i, u := range final.DayLog {
		assert.Equal(t, i+1, u.Day)
	}

	tracked, err := e.TrackByCode(ctx, result.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, issue.ID, tracked.ID)
}

func TestPostDayUpdate_ConcurrentDuplicateDay(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Public Works", 0.9), &fakeNotifier{}, nil)
	ctx := context.Background()
	issue := submitAccepted(t, e)
	_, err := e.CommitDuration(ctx, issue.ID, 2)
	require.NoError(t, err)

	// Two actors race to log day 1; exactly one wins.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.PostDayUpdate(ctx, issue.ID, 1, "racing update")
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentDay)
	assert.Len(t, got.DayLog, 1)
}

func TestListDepartmentIssues(t *testing.T) {
	s := newTestStore(t)
	e := New(s, acceptGate(t, s, "Public Works", 0.9), &fakeNotifier{}, nil)
	ctx := context.Background()
	issue := submitAccepted(t, e)

	dept, err := s.GetDepartmentByName(ctx, "Public Works")
	require.NoError(t, err)

	issues, err := e.ListDepartmentIssues(ctx, dept.ID, "")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.ID, issues[0].ID)

	issues, err = e.ListDepartmentIssues(ctx, dept.ID, models.IssueStatusResolved)
	require.NoError(t, err)
	assert.Empty(t, issues)

	var notFound *models.NotFoundError
	_, err = e.ListDepartmentIssues(ctx, "missing-dept", "")
	assert.ErrorAs(t, err, &notFound)
}
