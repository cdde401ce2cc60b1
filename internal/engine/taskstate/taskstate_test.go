package taskstate

import (
	"errors"
	"testing"
	"time"
)

func day(d int) *time.Time {
	t := time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		state State
		rule  string
	}{
		{"open pending", State{"Open", "Pending", nil, nil}, ""},
		{"in progress pending", State{"In Progress", "Pending", day(1), day(2)}, ""},
		{"on hold pending", State{"On Hold", "Pending", nil, day(2)}, ""},
		{"closed completed", State{"Closed", "Completed", nil, nil}, ""},
		{"closed cancelled", State{"Closed", "Cancelled", nil, nil}, ""},
		{"same day range", State{"Open", "Pending", day(3), day(3)}, ""},
		{"open completed", State{"Open", "Completed", nil, nil}, RuleInvalidStatusCombo},
		{"on hold cancelled", State{"On Hold", "Cancelled", nil, nil}, RuleInvalidStatusCombo},
		{"closed pending", State{"Closed", "Pending", nil, nil}, RuleInvalidStatusCombo},
		{"legacy completed status", State{"Completed", "Completed", nil, nil}, RuleInvalidStatusCombo},
		{"unknown completion", State{"Open", "Done", nil, nil}, RuleInvalidStatusCombo},
		{"reversed dates", State{"Open", "Pending", day(5), day(4)}, RuleInvalidDateRange},
		// date rule wins over status rule
		{"reversed dates and bad combo", State{"Open", "Completed", day(5), day(4)}, RuleInvalidDateRange},
	}
	for _, tc := range cases {
		err := Validate(tc.state)
		if tc.rule == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if ve.Rule != tc.rule {
			t.Fatalf("%s: expected rule %s, got %s", tc.name, tc.rule, ve.Rule)
		}
	}
}
