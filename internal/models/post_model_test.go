package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerivePostStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"no schedules", nil, PostStatusDraft},
		{"all pending", []string{ScheduleStatusPending, ScheduleStatusPending}, PostStatusScheduled},
		{"one still processing", []string{ScheduleStatusPublished, ScheduleStatusProcessing}, PostStatusPublished},
		{"partial success", []string{ScheduleStatusPublished, ScheduleStatusFailed}, PostStatusPublished},
		{"all failed", []string{ScheduleStatusFailed, ScheduleStatusFailed}, PostStatusFailed},
		{"failed and cancelled", []string{ScheduleStatusFailed, ScheduleStatusCancelled}, PostStatusFailed},
		{"all cancelled", []string{ScheduleStatusCancelled}, PostStatusCancelled},
		{"failure with work remaining", []string{ScheduleStatusFailed, ScheduleStatusPending}, PostStatusScheduled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DerivePostStatus(tc.statuses))
		})
	}
}
