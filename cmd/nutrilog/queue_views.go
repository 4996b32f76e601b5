package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"nutrilog/internal/api"
	"nutrilog/internal/queue"
)

// buildQueueStatusRows lists known statuses in lifecycle order, then any
// status the daemon reports that this CLI does not know. Returns nil when
// every count is zero.
func buildQueueStatusRows(stats map[string]int) [][]string {
	total := 0
	for _, count := range stats {
		total += count
	}
	if total == 0 {
		return nil
	}

	seen := make(map[string]bool, len(stats))
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		key := string(status)
		seen[key] = true
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	extra := make([]string, 0)
	for key := range stats {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildQueueListRows(jobs []api.Job) [][]string {
	if len(jobs) == 0 {
		return nil
	}
	sorted := make([]api.Job, len(jobs))
	copy(sorted, jobs)

	sort.SliceStable(sorted, func(i, j int) bool {
		ti := parseQueueTime(sorted[i].CreatedAt)
		tj := parseQueueTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})

	rows := make([][]string, 0, len(sorted))
	for _, job := range sorted {
		rows = append(rows, []string{
			shortID(job.ID),
			photoLabel(job.ArtifactRef),
			formatStatusLabel(job.Status),
			fmt.Sprintf("%d/%d", job.AttemptCount, job.MaxAttempts),
			formatDisplayTime(job.CapturedAt),
			jobResultSummary(job),
		})
	}
	return rows
}

func buildHistoryRows(events []api.JobEvent) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		attempt := "-"
		if ev.Attempt > 0 {
			attempt = fmt.Sprintf("%d", ev.Attempt)
		}
		rows = append(rows, []string{
			formatDisplayTimeSeconds(ev.At),
			formatStatusLabel(ev.Kind),
			formatStatusLabel(ev.Status),
			attempt,
			ev.Detail,
		})
	}
	return rows
}

// buildJobDetailRows renders one job as label/value pairs for `queue show`.
func buildJobDetailRows(job api.Job) [][]string {
	rows := [][]string{
		{"ID", job.ID},
		{"Status", formatStatusLabel(job.Status)},
		{"Photo", job.ArtifactRef},
		{"Captured", formatDisplayTimeSeconds(job.CapturedAt)},
		{"Attempts", fmt.Sprintf("%d of %d", job.AttemptCount, job.MaxAttempts)},
		{"Needs network", yesNo(job.RequiresNetwork)},
	}
	optional := []struct {
		label string
		value string
	}{
		{"Source", job.Source},
		{"Next attempt", formatDisplayTimeSeconds(job.NextAttemptAt)},
		{"Last error", job.LastError},
		{"Error category", job.ErrorCategory},
		{"Storage ID", job.StorageID},
		{"Description", job.Description},
		{"Decision", job.Decision},
		{"Created", formatDisplayTimeSeconds(job.CreatedAt)},
		{"Finished", formatDisplayTimeSeconds(job.FinishedAt)},
		{"Retried as", job.RetriedBy},
	}
	for _, field := range optional {
		if strings.TrimSpace(field.value) != "" {
			rows = append(rows, []string{field.label, field.value})
		}
	}
	if job.Calories > 0 {
		rows = append(rows, []string{"Calories", fmt.Sprintf("%.0f kcal", job.Calories)})
	}
	if job.Decision != "" {
		rows = append(rows, []string{"Photo deleted", yesNo(job.ArtifactDeleted)})
	}
	return rows
}

func jobResultSummary(job api.Job) string {
	switch job.Status {
	case string(queue.StatusSucceeded):
		if job.Calories > 0 {
			return fmt.Sprintf("%.0f kcal", job.Calories)
		}
		return "stored"
	case string(queue.StatusFailed), string(queue.StatusAwaitingRetry):
		if job.ErrorCategory != "" {
			return job.ErrorCategory
		}
		return truncate(job.LastError, 32)
	default:
		return "-"
	}
}

func photoLabel(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "Unknown"
	}
	return filepath.Base(ref)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit-1] + "…"
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	if t := parseQueueTime(value); !t.IsZero() {
		return t.Local().Format("2006-01-02 15:04")
	}
	return strings.TrimSpace(value)
}

func formatDisplayTimeSeconds(value string) string {
	if t := parseQueueTime(value); !t.IsZero() {
		return t.Local().Format("2006-01-02 15:04:05")
	}
	return strings.TrimSpace(value)
}

func parseQueueTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
