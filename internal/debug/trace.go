package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceLogger appends JSON-lines trace records to a file in the OS temp
// directory. Used by --trace-mcp to capture the raw RPC conversation without
// touching stdout, which belongs to the stdio transport.
type TraceLogger struct {
	mu       sync.Mutex
	file     *os.File
	filename string
}

// NewTraceLogger creates the trace file, named with a timestamp to the
// second; a run started in the same second as an earlier one truncates and
// reuses that file.
func NewTraceLogger() (*TraceLogger, error) {
	filename := filepath.Join(os.TempDir(),
		fmt.Sprintf("odata_mcp_trace_%s.log", time.Now().Format("20060102_150405")))

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	t := &TraceLogger{file: file, filename: filename}
	t.Log("TRACE", "trace logging started", map[string]interface{}{"pid": os.Getpid()})
	return t, nil
}

// Log appends one record. Data must be JSON-serializable.
func (t *TraceLogger) Log(level, message string, data interface{}) {
	if t == nil || t.file == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"level":     level,
		"message":   message,
	}
	if data != nil {
		entry["data"] = data
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintf(t.file, "%s\n", line)
	t.file.Sync()
}

// LogError appends an error record with context.
func (t *TraceLogger) LogError(context string, err error, data interface{}) {
	t.Log("ERROR", context, map[string]interface{}{
		"error": err.Error(),
		"data":  data,
	})
}

// Filename returns the trace file path for the startup banner.
func (t *TraceLogger) Filename() string {
	return t.filename
}

// Close flushes and closes the trace file.
func (t *TraceLogger) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	t.Log("TRACE", "trace logging stopped", nil)
	return t.file.Close()
}
