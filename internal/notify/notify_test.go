package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joisarv/civic/internal/models"
)

func testIssue() *models.Issue {
	return &models.Issue{
		ID:            "01TEST",
		TrackingCode:  "ABCD2345",
		ReporterEmail: "citizen@example.com",
		Address:       "42 Elm Street",
		Department:    "Public Works",
		Status:        models.IssueStatusInProgress,
		TotalDays:     3,
		CurrentDay:    1,
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func testDept() *models.Department {
	return &models.Department{
		ID:    "01DEPT",
		Name:  "Public Works",
		Email: "public-works@city.example.gov",
	}
}

func TestDepartmentReport(t *testing.T) {
	image := []byte("fake-jpeg")
	msg := DepartmentReport(testIssue(), testDept(), image, "image/jpeg")

	assert.Equal(t, "public-works@city.example.gov", msg.To)
	assert.Contains(t, msg.Subject, "ABCD2345")
	assert.Contains(t, msg.Subject, "Public Works")
	assert.Contains(t, msg.HTML, "42 Elm Street")
	assert.Contains(t, msg.HTML, "cid:issue_image")
	assert.Equal(t, image, msg.InlineImage)
	assert.Equal(t, "image/jpeg", msg.ImageType)
}

func TestDepartmentReport_EscapesHTML(t *testing.T) {
	issue := testIssue()
	issue.Address = "<script>alert(1)</script>"
	msg := DepartmentReport(issue, testDept(), nil, "")

	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestReminder(t *testing.T) {
	msg := Reminder(testIssue(), testDept(), 2)

	assert.Equal(t, "public-works@city.example.gov", msg.To)
	assert.Contains(t, msg.Subject, "Day 2")
	assert.Contains(t, msg.HTML, "Day 2")
	assert.Contains(t, msg.HTML, "ABCD2345")
	assert.Empty(t, msg.InlineImage)
}

func TestExtensionApology(t *testing.T) {
	issue := testIssue()
	issue.TotalDays = 5
	msg := ExtensionApology(issue, 2)

	assert.Equal(t, "citizen@example.com", msg.To)
	assert.Contains(t, msg.Subject, "ABCD2345")
	assert.Contains(t, msg.HTML, "2 more day(s)")
	assert.Contains(t, msg.HTML, "5 days in total")
}

func TestEmailNotifier_RequiresRecipient(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{})
	err := n.Send(context.Background(), Message{Subject: "no to"})
	assert.Error(t, err)
}

func TestEmailNotifier_Resend(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orig := resendBaseURL
	resendBaseURL = srv.URL
	defer func() { resendBaseURL = orig }()

	n := NewEmailNotifier(EmailConfig{From: "civic@example.com", ResendAPIKey: "test-key"})
	err := n.Send(context.Background(), Message{
		To:      "dept@example.com",
		Subject: "hello",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dept@example.com"}, got.To)
	assert.Equal(t, "hello", got.Subject)
}

func TestEmailNotifier_ResendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orig := resendBaseURL
	resendBaseURL = srv.URL
	defer func() { resendBaseURL = orig }()

	n := NewEmailNotifier(EmailConfig{From: "civic@example.com", ResendAPIKey: "test-key"})
	err := n.Send(context.Background(), Message{To: "dept@example.com", Subject: "retry"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmailNotifier_ResendClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	orig := resendBaseURL
	resendBaseURL = srv.URL
	defer func() { resendBaseURL = orig }()

	n := NewEmailNotifier(EmailConfig{From: "civic@example.com", ResendAPIKey: "test-key"})
	err := n.Send(context.Background(), Message{To: "dept@example.com", Subject: "bad"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}
