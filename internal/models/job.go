// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package models

import (
	"fmt"
	"time"
)

// JobKind names a scheduled sync job.
type JobKind string

const (
	JobInventory    JobKind = "inventory"
	JobUsage        JobKind = "usage"
	JobQuota        JobKind = "quota"
	JobTokenRefresh JobKind = "token_refresh"
	JobCleanup      JobKind = "cleanup"
)

// AllJobKinds lists every job kind the orchestrator schedules.
var AllJobKinds = []JobKind{JobInventory, JobUsage, JobQuota, JobTokenRefresh, JobCleanup}

// ParseJobKind validates s as a job kind.
func ParseJobKind(s string) (JobKind, error) {
	for _, k := range AllJobKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// JobState is the lifecycle state of one job run.
type JobState string

const (
	JobIdle      JobState = "IDLE"
	JobRunning   JobState = "RUNNING"
	JobCommitted JobState = "COMMITTED"
	JobFailed    JobState = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobCommitted || s == JobFailed
}

// EntityFailure records one SIM that failed inside an otherwise healthy batch.
type EntityFailure struct {
	ICCID string `json:"iccid"`
	Error string `json:"error"`
}

// JobStats summarizes a job run.
type JobStats struct {
	Processed       int             `json:"processed"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Unprocessed     int             `json:"unprocessed"`
	Upserted        int             `json:"upserted"`
	Flagged         int             `json:"flagged"`
	Deleted         int64           `json:"deleted"`
	Events          int             `json:"events"`
	Failures        []EntityFailure `json:"failures,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// JobStatus is the externally visible state of a job run.
type JobStatus struct {
	ID         string     `json:"id"`
	Kind       JobKind    `json:"kind"`
	State      JobState   `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      JobStats   `json:"stats"`
	Error      string     `json:"error,omitempty"`
}

// ScheduledJob describes one job kind's schedule and its latest scheduled run.
type ScheduledJob struct {
	Kind      JobKind    `json:"kind"`
	Trigger   string     `json:"trigger"`
	Running   bool       `json:"running"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRun   *JobStatus `json:"last_run,omitempty"`
}

// SchedulerStatus reports the scheduler and every scheduled job.
type SchedulerStatus struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Jobs      []ScheduledJob `json:"jobs"`
	TotalJobs int            `json:"total_jobs"`
}
