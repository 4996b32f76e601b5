package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"nutrilog/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// daemonLines summarizes the process and scheduler state.
func daemonLines(status api.DaemonStatus, colorize bool) []string {
	if !status.Running {
		return []string{renderStatusLine("Daemon", statusError, "Not running", colorize)}
	}
	detail := fmt.Sprintf("Running (pid %d", status.PID)
	if status.Version != "" {
		detail += ", " + status.Version
	}
	if started := parseQueueTime(status.StartedAt); !started.IsZero() {
		detail += ", up " + formatUptime(time.Since(started))
	}
	detail += ")"

	lines := []string{renderStatusLine("Daemon", statusOK, detail, colorize)}

	sched := status.Scheduler
	schedKind, schedDetail := statusOK, fmt.Sprintf("%d workers, %d in flight", sched.Workers, len(sched.Inflight))
	if !sched.Running {
		schedKind, schedDetail = statusError, "Stopped"
	}
	lines = append(lines, renderStatusLine("Scheduler", schedKind, schedDetail, colorize))

	if sched.Online {
		lines = append(lines, renderStatusLine("Network", statusOK, "Online", colorize))
	} else {
		lines = append(lines, renderStatusLine("Network", statusWarn, "Offline (network jobs are held)", colorize))
	}

	backend := status.QueueBackend
	if status.QueueDBPath != "" {
		backend += " (" + status.QueueDBPath + ")"
	}
	lines = append(lines, renderStatusLine("Job store", statusInfo, backend, colorize))
	if sched.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, sched.LastError, colorize))
	}
	if status.EventClients > 0 {
		lines = append(lines, renderStatusLine("Event clients", statusInfo, fmt.Sprintf("%d", status.EventClients), colorize))
	}
	return lines
}

// checkLines renders collaborator readiness followed by preflight results.
func checkLines(health *api.ComponentHealth, checks []api.CheckResult, colorize bool) []string {
	lines := make([]string, 0, len(checks)+1)
	if health != nil {
		kind := statusOK
		detail := "Ready"
		if !health.Ready {
			kind = statusError
			detail = health.Detail
		}
		lines = append(lines, renderStatusLine("Collaborators", kind, detail, colorize))
	}
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return d.String()
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%02dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
