package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), 50*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), sql, nil)
	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	l.Trace(context.Background(), time.Now(), sql, errors.New("database is locked"))

	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("log entries = %d, want 4", len(entries))
	}
	wantLevels := []zapcore.Level{zap.DebugLevel, zap.DebugLevel, zap.WarnLevel, zap.WarnLevel}
	wantMsgs := []string{"sql query", "sql query", "slow query", "query error"}
	for i, e := range entries {
		if e.Level != wantLevels[i] || e.Message != wantMsgs[i] {
			t.Errorf("entry %d = %s %q, want %s %q", i, e.Level, e.Message, wantLevels[i], wantMsgs[i])
		}
	}
}
