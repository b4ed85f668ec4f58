package eventlog

import (
	"os"
	"testing"
)

func TestWriteAndReadEvents(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "eventlog_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	writer, err := NewWriter(tempDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer func() { _ = writer.Close() }()

	events := []struct {
		uuid    string
		kind    string
		payload map[string]any
	}{
		{"mission-1", "transition_completed", map[string]any{"transition": "T1_StartCoding", "to": "CODING"}},
		{"mission-1", "transition_blocked", map[string]any{"transition": "T2_StartTesting"}},
		{"mission-2", "awaiting_approval", nil},
	}
	for _, e := range events {
		if err := writer.WriteEvent(e.uuid, e.kind, e.payload); err != nil {
			t.Fatalf("Failed to write event: %v", err)
		}
	}

	logFile := writer.GetCurrentLogFile()
	if logFile == "" {
		t.Fatal("Expected a current log file")
	}

	read, err := ReadEvents(logFile)
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(read) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(read))
	}
	if read[0].MissionUUID != "mission-1" || read[0].Type != "transition_completed" {
		t.Errorf("Unexpected first event: %+v", read[0])
	}
	if read[0].Payload["to"] != "CODING" {
		t.Errorf("Payload lost: %+v", read[0].Payload)
	}
	if read[2].Payload != nil {
		t.Errorf("Expected nil payload, got %+v", read[2].Payload)
	}

	for i := 1; i < len(read); i++ {
		if read[i].Timestamp.Before(read[i-1].Timestamp) {
			t.Error("Events not in write order")
		}
	}
}

func TestWriterCreatesLogDirectory(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "eventlog_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	nested := tempDir + "/nested/logs"
	writer, err := NewWriter(nested)
	if err != nil {
		t.Fatalf("Failed to create writer in nested dir: %v", err)
	}
	defer func() { _ = writer.Close() }()

	if _, err := os.Stat(nested); err != nil {
		t.Errorf("Expected log directory to exist: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "eventlog_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	writer, err := NewWriter(tempDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}
