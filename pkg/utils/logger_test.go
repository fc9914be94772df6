package utils

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observed создаёт Logger поверх observer-ядра
func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	zl := zap.New(core)
	return &Logger{Logger: zl, sugar: zl.Sugar()}, logs
}

// swapGlobal подменяет глобальный logger на время теста
func swapGlobal(t *testing.T, l *Logger) {
	t.Helper()
	globalMu.RLock()
	prev := globalLogger
	globalMu.RUnlock()
	SetGlobalLogger(l)
	t.Cleanup(func() { SetGlobalLogger(prev) })
}

// ============================================================
// InitLogger
// ============================================================

func TestInitLogger_FileReceivesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accountsync.log")

	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	l.WithAccount("acc-1").Info("poll merged", Ticket(555001), Outcome("success"))
	l.Debug("below level")
	_ = l.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line at info level, got %d: %s", len(lines), raw)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]interface{}{
		"message":    "poll merged",
		"account_id": "acc-1",
		"ticket":     float64(555001),
		"outcome":    "success",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("timestamp key ts missing")
	}
}

func TestInitLogger_UnwritableOutputFallsBack(t *testing.T) {
	l := InitLogger(LogConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "log.txt")})
	if l == nil || l.Sugar() == nil {
		t.Fatal("InitLogger must fall back to stderr")
	}
}

func TestInitLogger_Formats(t *testing.T) {
	for _, cfg := range []LogConfig{
		{},
		{Format: "text", Level: "debug"},
		{Format: "TEXT", Development: true},
		{Output: "stdout", Level: "error"},
	} {
		if l := InitLogger(cfg); l == nil || l.Logger == nil {
			t.Errorf("InitLogger(%+v) returned no logger", cfg)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" Info ":  zapcore.InfoLevel,
		"WARNING": zapcore.WarnLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// ============================================================
// Глобальный logger
// ============================================================

func TestGlobalLogger_LazyAndReplaceable(t *testing.T) {
	swapGlobal(t, nil)

	first := L()
	if first == nil || first != GetGlobalLogger() {
		t.Fatal("L must create one global logger lazily")
	}

	l, logs := observed(zapcore.DebugLevel)
	SetGlobalLogger(l)
	if OrGlobal(nil) != l {
		t.Error("OrGlobal(nil) must return the global logger")
	}
	other, _ := observed(zapcore.InfoLevel)
	if OrGlobal(other) != other {
		t.Error("OrGlobal must keep an explicit logger")
	}

	Debug("reconnect scheduled", State("SIMULATED"))
	Warnf("bridge health check failed %d times", 3)
	Error("persist failed", Err(errors.New("disk full")))

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ContextMap()["state"] != "SIMULATED" {
		t.Errorf("state field lost: %v", entries[0].ContextMap())
	}
	if entries[1].Message != "bridge health check failed 3 times" || entries[1].Level != zapcore.WarnLevel {
		t.Errorf("unexpected formatted entry: %+v", entries[1].Entry)
	}
	if entries[2].ContextMap()["error"] != "disk full" {
		t.Errorf("error field lost: %v", entries[2].ContextMap())
	}
}

func TestInitGlobalLogger(t *testing.T) {
	swapGlobal(t, nil)

	l := InitGlobalLogger(LogConfig{Level: "warn", Format: "text"})
	if GetGlobalLogger() != l {
		t.Error("InitGlobalLogger must install the logger")
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("warn logger must drop info")
	}
}

// ============================================================
// Контекстные хелперы и поля
// ============================================================

func TestLogger_ContextHelpersStack(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)

	child := l.WithComponent("reconciler").WithAccount("acc-7").WithSymbol("GBPJPY").WithTicket(104242)
	if child == l {
		t.Fatal("helpers must return a child logger")
	}
	child.Info("position closed", PNL(-12.5), Side("short"))
	l.Info("parent untouched")

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	want := map[string]interface{}{
		"component":  "reconciler",
		"account_id": "acc-7",
		"symbol":     "GBPJPY",
		"ticket":     int64(104242),
		"pnl":        -12.5,
		"side":       "short",
	}
	for k, v := range want {
		if ctx[k] != v {
			t.Errorf("%s = %v (%T), want %v", k, ctx[k], ctx[k], v)
		}
	}
	if len(entries[1].Context) != 0 {
		t.Errorf("parent logger picked up child fields: %v", entries[1].ContextMap())
	}
}

func TestFieldKeys(t *testing.T) {
	fields := map[string]Field{
		"price":      Price(1.0850),
		"volume":     Volume(0.05),
		"latency_ms": Latency(15.5),
		"request_id": RequestID("req-1"),
		"outcome":    Outcome("partial"),
		"state":      State("ONLINE"),
	}
	for key, f := range fields {
		if f.Key != key {
			t.Errorf("field key = %q, want %q", f.Key, key)
		}
	}
}

func BenchmarkLogger_WithAccount(b *testing.B) {
	l := InitLogger(LogConfig{Output: os.DevNull})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.WithAccount("acc-1").Info("merged update", Int("upserted", i))
	}
}
