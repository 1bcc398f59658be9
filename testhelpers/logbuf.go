// Package testhelpers holds test utilities shared across packages.
package testhelpers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
)

// LogBuf is a synchronized io.Writer.  It's meant to prevent any race detection
// on loggers in background go routines if you use a raw bytes.Buffer.
//
// Typical usage pattern with zerolog looks something like:
// buf := testhelpers.NewLogBuf()
// log := zerolog.New(buf)
// <do test things that write to log>
// if e := buf.Find("new dialog"); e == nil || e["callid"] != "abc" { t.Error("missing expected log") }
type LogBuf struct {
	sync.Mutex
	*bytes.Buffer
}

// Entry is one decoded JSON log line.
type Entry map[string]interface{}

// Write satisfies io.Writer.
func (ml *LogBuf) Write(p []byte) (int, error) {
	ml.Lock()
	defer ml.Unlock()
	return ml.Buffer.Write(p)
}

// String satisfies Stringer
func (ml *LogBuf) String() string {
	ml.Lock()
	defer ml.Unlock()
	return ml.Buffer.String()
}

// Reset resets the log buffer.
func (ml *LogBuf) Reset() {
	ml.Lock()
	defer ml.Unlock()
	ml.Buffer.Reset()
}

// Entries decodes every line written so far.  Lines that aren't JSON
// objects are skipped.
func (ml *LogBuf) Entries() []Entry {
	var entries []Entry
	sc := bufio.NewScanner(strings.NewReader(ml.String()))
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

// Find returns the entries logged with the given message.
func (ml *LogBuf) Find(msg string) []Entry {
	var found []Entry
	for _, e := range ml.Entries() {
		if e["message"] == msg {
			found = append(found, e)
		}
	}
	return found
}

// NewLogBuf returns an initialized log buffer.
func NewLogBuf() *LogBuf {
	ml := LogBuf{}
	ml.Buffer = &bytes.Buffer{}
	return &ml
}
