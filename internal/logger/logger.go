// Package logger records a HIL test session: a timestamped log file, one record per
// test and a JSON summary written on Close.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Status is the outcome of a test.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// TestRecord is one LogTest entry.
type TestRecord struct {
	Name     string            `json:"name"`
	Status   Status            `json:"status"`
	Time     time.Time         `json:"time"`
	Duration time.Duration     `json:"duration_ns,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// Summary counts the outcomes of a session.
type Summary struct {
	Session  string       `json:"session"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished,omitempty"`
	Total    int          `json:"total"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Skipped  int          `json:"skipped"`
	Tests    []TestRecord `json:"tests"`
}

// Logger writes session logs. It is safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	dir     string
	session string
	file    *os.File
	started time.Time
	tests   []TestRecord
	now     func() time.Time
}

// New creates dir if needed and opens <dir>/<session>.log. An empty session is
// named after the current time.
func New(dir, session string) (*Logger, error) {
	started := time.Now()
	if session == "" {
		session = "hil-" + started.Format("20060102-150405")
	}
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create log directory %s", dir)
	}
	path := filepath.Join(dir, session+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open session log %s", path)
	}

	l := &Logger{
		dir:     dir,
		session: session,
		file:    file,
		started: started,
		now:     time.Now,
	}
	l.write("INFO", "session %s started", session)

	return l, nil
}

// Path returns the session log file name.
func (l *Logger) Path() string {
	return l.file.Name()
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "%s [%s] %s\n", l.now().Format(time.RFC3339Nano), level, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
	l.write("INFO", format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	glog.WarningDepth(1, fmt.Sprintf(format, args...))
	l.write("WARN", format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf(format, args...))
	l.write("ERROR", format, args...)
}

// LogTest records the outcome of a test.
func (l *Logger) LogTest(name string, status Status, duration time.Duration, details map[string]string) {
	rec := TestRecord{
		Name:     name,
		Status:   status,
		Time:     l.now(),
		Duration: duration,
		Details:  details,
	}
	l.mu.Lock()
	l.tests = append(l.tests, rec)
	l.mu.Unlock()

	if status == StatusFail {
		l.Errorf("test %s: %s", name, status)

		return
	}
	l.Infof("test %s: %s", name, status)
}

// Summary returns the counts so far.
func (l *Logger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := Summary{
		Session: l.session,
		Started: l.started,
		Total:   len(l.tests),
		Tests:   append([]TestRecord{}, l.tests...),
	}
	for _, rec := range l.tests {
		switch rec.Status {
		case StatusPass:
			sum.Passed++
		case StatusFail:
			sum.Failed++
		case StatusSkip:
			sum.Skipped++
		}
	}

	return sum
}

// Close writes <dir>/<session>-summary.json and closes the log file.
func (l *Logger) Close() error {
	sum := l.Summary()
	sum.Finished = l.now()
	l.write("INFO", "session %s finished: %d passed, %d failed, %d skipped", l.session, sum.Passed, sum.Failed, sum.Skipped)

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode session summary")
	}
	path := filepath.Join(l.dir, l.session+"-summary.json")
	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unable to write session summary %s", path)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err = l.file.Close()
	l.file = nil
	if err != nil {
		return errors.Wrap(err, "unable to close session log")
	}

	return nil
}
