// Package logging builds logrus loggers for blefota and adapts them to the
// updater.Logger interface.
package logging

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-blefota/updater"
)

var (
	// BuildCommit is the short VCS revision of the binary
	BuildCommit = "HEAD"

	// BuildTime is the VCS commit time of the binary
	BuildTime = "N/A"
)

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			if len(bs.Value) > 7 {
				BuildCommit = bs.Value[0:7]
			}
		case "vcs.time":
			BuildTime = bs.Value
		}
	}
}

// buildHook adds build information to every entry.
type buildHook struct{}

func (h *buildHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *buildHook) Fire(e *logrus.Entry) error {
	e.Data["build_commit"] = BuildCommit
	return nil
}

// New creates a logger writing to out. level is a logrus level name ("debug",
// "info", "warn", ...), empty meaning info; format is "text" (default) or
// "json".
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	lvl := logrus.InfoLevel
	if level != "" {
		var err error
		lvl, err = logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	log.AddHook(&buildHook{})
	return log, nil
}

// Adapter implements updater.Logger on a logrus entry.
type Adapter struct {
	entry *logrus.Entry
}

var _ updater.Logger = (*Adapter)(nil)

// NewAdapter wraps entry. Use logrus.NewEntry(logger) for a plain logger.
func NewAdapter(entry *logrus.Entry) *Adapter {
	if entry == nil {
		panic("entry cannot be nil")
	}
	return &Adapter{entry: entry}
}

// Debug implements updater.Logger.
func (a *Adapter) Debug(msg string, keysAndValues ...interface{}) {
	a.entry.WithFields(Fields(keysAndValues...)).Debug(msg)
}

// Info implements updater.Logger.
func (a *Adapter) Info(msg string, keysAndValues ...interface{}) {
	a.entry.WithFields(Fields(keysAndValues...)).Info(msg)
}

// Error implements updater.Logger.
func (a *Adapter) Error(msg string, keysAndValues ...interface{}) {
	a.entry.WithFields(Fields(keysAndValues...)).Error(msg)
}

// Fields converts alternating keys and values into logrus fields. Non-string
// keys are formatted with %v; a trailing key without a value maps to
// "(MISSING)".
func Fields(keysAndValues ...interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			v := keysAndValues[i+1]
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[key] = v
		} else {
			fields[key] = "(MISSING)"
		}
	}
	return fields
}
