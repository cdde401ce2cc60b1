// Package taskstate validates task status, completion and date combinations.
package taskstate

import (
	"fmt"
	"time"

	"taskline/internal/domain"
)

// Rule codes reported by ValidationError.
const (
	RuleInvalidDateRange   = "invalid_date_range"
	RuleInvalidStatusCombo = "invalid_status_combo"
	RuleTitleRequired      = "title_required"
)

// ValidationError names the first violated rule.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// State is the prospective combination of fields under validation.
type State struct {
	TaskStatus       string
	CompletionStatus string
	StartDate        *time.Time
	EndDate          *time.Time
}

// Of extracts the validated fields from a task.
func Of(t domain.Task) State {
	return State{
		TaskStatus:       t.TaskStatus,
		CompletionStatus: t.CompletionStatus,
		StartDate:        t.StartDate,
		EndDate:          t.EndDate,
	}
}

var openStatuses = map[string]bool{
	domain.TaskOpen:       true,
	domain.TaskInProgress: true,
	domain.TaskOnHold:     true,
}

// ValidTaskStatus reports enum membership.
func ValidTaskStatus(s string) bool {
	return openStatuses[s] || s == domain.TaskClosed
}

// ValidCompletionStatus reports enum membership.
func ValidCompletionStatus(s string) bool {
	switch s {
	case domain.CompletionPending, domain.CompletionCompleted, domain.CompletionCancelled:
		return true
	}
	return false
}

// Validate checks s and returns the first violation, or nil.
func Validate(s State) error {
	if !ValidTaskStatus(s.TaskStatus) {
		return &ValidationError{Rule: RuleInvalidStatusCombo, Message: fmt.Sprintf("unknown taskStatus %q", s.TaskStatus)}
	}
	if !ValidCompletionStatus(s.CompletionStatus) {
		return &ValidationError{Rule: RuleInvalidStatusCombo, Message: fmt.Sprintf("unknown completionStatus %q", s.CompletionStatus)}
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return &ValidationError{Rule: RuleInvalidDateRange, Message: "endDate must not be before startDate"}
	}
	if openStatuses[s.TaskStatus] && s.CompletionStatus != domain.CompletionPending {
		return &ValidationError{
			Rule:    RuleInvalidStatusCombo,
			Message: fmt.Sprintf("taskStatus %s requires completionStatus Pending, got %s", s.TaskStatus, s.CompletionStatus),
		}
	}
	if s.TaskStatus == domain.TaskClosed && s.CompletionStatus == domain.CompletionPending {
		return &ValidationError{
			Rule:    RuleInvalidStatusCombo,
			Message: "taskStatus Closed requires completionStatus Completed or Cancelled",
		}
	}
	return nil
}
