package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel logrus.Level
		wantErr   bool
	}{
		{name: "defaults", wantLevel: logrus.InfoLevel},
		{name: "debug json", level: "debug", format: "json", wantLevel: logrus.DebugLevel},
		{name: "warn text", level: "warn", format: "TEXT", wantLevel: logrus.WarnLevel},
		{name: "bad level", level: "loud", wantErr: true},
		{name: "bad format", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, tt.format, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, log.GetLevel())
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", "json", &buf)
	require.NoError(t, err)

	NewAdapter(logrus.NewEntry(log)).Info("device ready", "app", "1.2.3", "secure", true)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "device ready", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "1.2.3", entry["app"])
	assert.Equal(t, true, entry["secure"])
	assert.Equal(t, BuildCommit, entry["build_commit"])
}

func TestAdapterLevels(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	a := NewAdapter(logrus.NewEntry(log).WithField("run_id", "r1"))

	a.Debug("status", "message", "enabling FOTA")
	a.Info("update complete", "bytes", 512)
	a.Error("page attempt failed", "attempt", 2, "error", errors.New("boom"))

	entries := hook.AllEntries()
	require.Len(t, entries, 3)

	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, "enabling FOTA", entries[0].Data["message"])
	assert.Equal(t, "r1", entries[0].Data["run_id"])

	assert.Equal(t, logrus.InfoLevel, entries[1].Level)
	assert.Equal(t, 512, entries[1].Data["bytes"])

	assert.Equal(t, logrus.ErrorLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[2].Data["error"])
	assert.Equal(t, "page attempt failed", entries[2].Message)
}

func TestAdapterFiltersLevel(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.InfoLevel)

	NewAdapter(logrus.NewEntry(log)).Debug("hidden")
	assert.Empty(t, hook.AllEntries())
}

func TestFields(t *testing.T) {
	assert.Equal(t, logrus.Fields{}, Fields())
	assert.Equal(t, logrus.Fields{"a": 1, "b": "x"}, Fields("a", 1, "b", "x"))
	assert.Equal(t, logrus.Fields{"7": true}, Fields(7, true))
	assert.Equal(t, logrus.Fields{"a": 1, "dangling": "(MISSING)"}, Fields("a", 1, "dangling"))
}

func TestNewAdapterPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewAdapter(nil) })
}
