// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(42):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test-svc",
		Quiet:   true,
	})
	logger.Info("hello", "request_id", "req-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "test-svc_") {
		t.Errorf("unexpected log file name %q", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"hello"`) {
		t.Errorf("log file missing message: %s", content)
	}
	if !strings.Contains(content, `"service":"test-svc"`) {
		t.Errorf("log file missing service attribute: %s", content)
	}
}

func TestRedactionScrubsSensitiveAttrs(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test-svc",
		Quiet:   true,
	})
	logger.Info("auth attempt", "api_key", "sk-live-99", "request_id", "req-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 log file, err=%v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	content := string(data)

	if strings.Contains(content, "sk-live-99") {
		t.Error("sensitive value leaked into log output")
	}
	if !strings.Contains(content, "[REDACTED]") {
		t.Error("expected redaction placeholder in log output")
	}
	if !strings.Contains(content, "req-1") {
		t.Error("benign attribute missing from log output")
	}
}

func TestWithAddsPersistentAttributes(t *testing.T) {
	dir := t.TempDir()

	base := New(Config{Level: LevelInfo, LogDir: dir, Service: "test-svc", Quiet: true})
	child := base.With("request_id", "req-2")
	child.Info("step started")
	if err := base.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if !strings.Contains(string(data), "req-2") {
		t.Error("child logger attribute missing from output")
	}
}
