package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIssueStatusTerminal(t *testing.T) {
	assert.True(t, IssueStatusRejected.Terminal())
	assert.True(t, IssueStatusResolved.Terminal())
	assert.False(t, IssueStatusPending.Terminal())
	assert.False(t, IssueStatusInProgress.Terminal())
}

func TestPendingResolution(t *testing.T) {
	i := &Issue{Status: IssueStatusInProgress, TotalDays: 3, CurrentDay: 3}
	assert.True(t, i.PendingResolution())

	i.CurrentDay = 2
	assert.False(t, i.PendingResolution())

	i = &Issue{Status: IssueStatusPending, TotalDays: 0, CurrentDay: 0}
	assert.False(t, i.PendingResolution(), "pending issue with no duration is not awaiting resolution")

	i = &Issue{Status: IssueStatusResolved, TotalDays: 3, CurrentDay: 3}
	assert.False(t, i.PendingResolution())
}

func TestIllegalTransitionError(t *testing.T) {
	err := &IllegalTransitionError{Op: "resolve", Status: IssueStatusPending}
	assert.Equal(t, "resolve is not allowed while issue is pending", err.Error())

	err.Detail = "day 2 of 3 not yet logged"
	assert.Contains(t, err.Error(), "day 2 of 3 not yet logged")
}

func TestSequenceViolationError(t *testing.T) {
	err := &SequenceViolationError{Got: 3, Expected: 2}
	assert.Contains(t, err.Error(), "day 3")
	assert.Contains(t, err.Error(), "expected day 2")
}
