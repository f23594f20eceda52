package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// maxLogLineBytes bounds a single scanned log line.
	maxLogLineBytes = 1024 * 1024

	// followPollInterval is how often Follow checks the file for appended lines.
	followPollInterval = 100 * time.Millisecond
)

// LogEntry is one parsed line from a structured log file. Lines that are
// not valid JSON keep their text in Raw with IsValid unset.
type LogEntry struct {
	Time    time.Time
	Level   string
	Msg     string
	Attrs   map[string]interface{}
	Raw     string
	IsValid bool
}

// ViewerConfig controls which entries a Viewer shows and how.
type ViewerConfig struct {
	// Level drops entries below the named level. Empty shows everything.
	Level string

	// Pattern drops entries whose raw line does not match. Nil shows everything.
	Pattern *regexp.Regexp

	// NoColor disables ANSI colors in the level column.
	NoColor bool
}

// Viewer reads structured log files for the logs command, either as a
// fixed tail or as a live follow.
type Viewer struct {
	cfg ViewerConfig
	out io.Writer
}

// NewViewer returns a viewer that writes formatted entries to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{cfg: cfg, out: out}
}

// Tail returns the entries among the last n lines of the file that pass
// the viewer's filters. Filters apply after the tail is taken, so a
// restrictive filter can yield fewer than n entries even in a long file.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if n <= 0 {
		return nil, nil
	}

	// Keep only the last n raw lines. The ring keeps memory flat no
	// matter how large the file has grown.
	ring := make([]string, n)
	total := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	for scanner.Scan() {
		ring[total%n] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	count := total
	if count > n {
		count = n
	}
	entries := make([]LogEntry, 0, count)
	for i := total - count; i < total; i++ {
		entry := parseLogLine(ring[i%n])
		if v.keep(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Follow streams entries appended to the file after the call, sending the
// ones that pass the filters on entries until ctx is done. The file is
// polled rather than watched so it works on any filesystem the log may
// live on.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Start at the end. Follow only shows new activity.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end of log: %w", err)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	var partial strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if stopped := v.drainAppended(ctx, reader, &partial, entries); stopped {
				return nil
			}
		}
	}
}

// drainAppended reads everything written since the previous poll and sends
// the entries that pass the filters. A line whose newline has not landed
// yet stays in partial until the next poll, so half-written lines are
// neither dropped nor emitted early. Returns true once ctx is done.
func (v *Viewer) drainAppended(ctx context.Context, r *bufio.Reader, partial *strings.Builder, entries chan<- LogEntry) bool {
	for {
		chunk, err := r.ReadString('\n')
		partial.WriteString(chunk)
		if err != nil {
			// Caught up with the writer for now.
			return false
		}

		line := strings.TrimSuffix(partial.String(), "\n")
		partial.Reset()
		if line == "" {
			continue
		}
		entry := parseLogLine(line)
		if !v.keep(entry) {
			continue
		}

		select {
		case entries <- entry:
		case <-ctx.Done():
			return true
		}
	}
}

// FormatEntry renders one entry as a single human-readable line.
// Unparseable entries are shown verbatim. Attributes print in key order
// so repeated runs produce identical output.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	var b strings.Builder
	b.WriteString(entry.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.formatLevel(entry.Level))
	b.WriteByte(' ')
	b.WriteString(entry.Msg)

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Attrs[k])
	}
	return b.String()
}

// Print writes formatted entries to the viewer's output, one per line.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

// parseLogLine decodes one slog JSON line. The time, level and msg keys
// map onto the entry's named fields; every other key stays in Attrs.
func parseLogLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(line), &fields); err != nil || fields == nil {
		return entry
	}
	entry.IsValid = true

	if s, ok := fields["time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			entry.Time = ts
		}
	}
	entry.Level, _ = fields["level"].(string)
	entry.Msg, _ = fields["msg"].(string)

	delete(fields, "time")
	delete(fields, "level")
	delete(fields, "msg")
	entry.Attrs = fields
	return entry
}

// keep reports whether an entry passes the viewer's level and pattern
// filters. Pattern matching runs against the raw line so attribute
// values are searchable too.
func (v *Viewer) keep(entry LogEntry) bool {
	if v.cfg.Level != "" {
		if LevelFromString(entry.Level) < LevelFromString(v.cfg.Level) {
			return false
		}
	}
	if v.cfg.Pattern != nil && !v.cfg.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

// levelColors holds the ANSI escape for each level's column.
var levelColors = map[string]string{
	"debug":   "\033[90m", // gray
	"info":    "\033[32m", // green
	"warn":    "\033[33m", // yellow
	"warning": "\033[33m",
	"error":   "\033[31m", // red
}

const colorReset = "\033[0m"

// formatLevel renders the level as a fixed-width column, colored unless
// NoColor is set.
func (v *Viewer) formatLevel(level string) string {
	name := strings.ToUpper(level)
	if len(name) > 5 {
		name = name[:5]
	}
	column := fmt.Sprintf("%-5s", name)

	if v.cfg.NoColor {
		return column
	}
	color, ok := levelColors[strings.ToLower(level)]
	if !ok {
		return column
	}
	return color + column + colorReset
}
