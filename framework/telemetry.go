package framework

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventRebuildStart   EventType = "rebuild_start"
	EventRebuildFinish  EventType = "rebuild_finish"
	EventRebuildError   EventType = "rebuild_error"
	EventRebuildSkipped EventType = "rebuild_skipped"
	EventSourcesMissing EventType = "sources_missing"
	EventLensesEmitted  EventType = "lenses_emitted"
	EventCommandOpen    EventType = "command_open"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	URI       string                 `json:"uri,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Count     int                    `json:"count,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry receives events from the map session and the lens server.
type Telemetry interface {
	Emit(event Event)
}

// Emit stamps the event and forwards it when t is non-nil.
func Emit(t Telemetry, event Event) {
	if t == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	t.Emit(event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.enc = nil
		return err
	}
	return nil
}

// LoggerTelemetry writes one log line per event.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[%s] uri=%s count=%d dur=%s meta=%v msg=%s", event.Type, event.URI, event.Count, event.Duration, event.Metadata, event.Message)
}
