package cron

import (
	"errors"
	"time"
)

// ErrNotFound reports an unknown cron job id.
var ErrNotFound = errors.New("cron job not found")

// Job is one persisted schedule. Timestamps serialize as RFC 3339.
type Job struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	CronExpression  string     `json:"cron_expression"`
	Command         string     `json:"command"`
	ChannelID       string     `json:"channel_id"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	ExecutionCount  int        `json:"execution_count"`
	FailureCount    int        `json:"failure_count"`
	LastError       string     `json:"last_error,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
}

// Location resolves the job's timezone, defaulting to UTC.
func (j *Job) Location() *time.Location {
	if j.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
