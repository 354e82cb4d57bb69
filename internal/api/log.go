package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"snoozer/pkg/logging"
)

// slog text attrs: key=value or key="quoted value"
var attrPattern = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"((?:[^"\\]|\\.)*)"|([^ ]+))`)

// maxStatusValue drops long attr values (paths, session IDs) from the status line.
const maxStatusValue = 20

// LogEntry is one parsed server log record.
type LogEntry struct {
	Time      string            `json:"time,omitempty"`
	Level     string            `json:"level,omitempty"`
	Component string            `json:"component,omitempty"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// LatestLogResponse is returned by GET /api/log/latest.
type LatestLogResponse struct {
	Log    string     `json:"log"`
	Event  string     `json:"event"`
	Recent []LogEntry `json:"recent,omitempty"`
}

// handleLatestLog returns a one-line status of the newest log record, the
// newest alarm event and, with ?lines=N, the N most recent records.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	resp := LatestLogResponse{
		Log:   statusLine(logging.ServerCapture.Last()),
		Event: logging.EventCapture.Last(),
	}

	if s := r.URL.Query().Get("lines"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "invalid lines", http.StatusBadRequest)
			return
		}
		for _, raw := range logging.ServerCapture.Recent(n) {
			resp.Recent = append(resp.Recent, parseLogLine(raw))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to write log response", "error", err)
	}
}

// parseLogLine splits a slog text record. Messages written as
// "Component: text" are split into their two parts. Unstructured input
// becomes the message as-is.
func parseLogLine(raw string) LogEntry {
	matches := attrPattern.FindAllStringSubmatch(raw, -1)
	entry := LogEntry{}

	for _, m := range matches {
		key, val := m[1], m[3]
		if m[3] == "" {
			val = strings.ReplaceAll(m[2], `\"`, `"`)
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				entry.Time = t.Format("15:04:05")
			}
		case "level":
			entry.Level = val
		case "msg":
			entry.Message = val
		default:
			if entry.Attrs == nil {
				entry.Attrs = make(map[string]string)
			}
			entry.Attrs[key] = val
		}
	}

	if entry.Message == "" {
		return LogEntry{Message: raw}
	}
	if comp, text, ok := strings.Cut(entry.Message, ": "); ok && !strings.Contains(comp, " ") {
		entry.Component, entry.Message = comp, text
	}
	return entry
}

// statusLine renders the newest record as "HH:MM:SS Component: text (k=v, ...)"
// with attrs sorted and long values left out.
func statusLine(raw string) string {
	if raw == "" {
		return ""
	}
	e := parseLogLine(raw)
	if e.Time == "" && e.Level == "" && e.Attrs == nil {
		return raw
	}

	var b strings.Builder
	if e.Time != "" {
		b.WriteString(e.Time)
		b.WriteByte(' ')
	}
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)

	var params []string
	for k, v := range e.Attrs {
		if len(v) > maxStatusValue {
			continue
		}
		params = append(params, fmt.Sprintf("%s=%s", k, v))
	}
	if len(params) > 0 {
		sort.Strings(params)
		fmt.Fprintf(&b, " (%s)", strings.Join(params, ", "))
	}
	return b.String()
}
