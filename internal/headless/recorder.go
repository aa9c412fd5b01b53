package headless

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/model"
)

// maxRecorded bounds the history kept by Recorder.
const maxRecorded = 50

// RecordedError is an error presented to the user.
type RecordedError struct {
	model.ErrorInfo
	At time.Time `json:"at"`
}

// RecordedLaunch is a launch command returned by the server.
type RecordedLaunch struct {
	model.LaunchCommand
	At time.Time `json:"at"`
}

// Recorder implements model.ErrorHandler and model.LaunchService by logging
// and keeping the most recent entries. Errors are acknowledged at once.
type Recorder struct {
	mu       sync.Mutex
	errors   []RecordedError
	launches []RecordedLaunch
	logger   *zap.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger, now: time.Now}
}

// Handle records a request failure.
func (r *Recorder) Handle(_ context.Context, info model.ErrorInfo) error {
	r.logger.Warn("dialog error",
		zap.String("message", info.Message),
		zap.String("error_id", info.ID),
		zap.String("type", info.Type))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = appendBounded(r.errors, RecordedError{ErrorInfo: info, At: r.now().UTC()})
	return nil
}

// Launch records a launch command.
func (r *Recorder) Launch(_ context.Context, cmd model.LaunchCommand) error {
	r.logger.Info("launch",
		zap.String("type", cmd.Type),
		zap.String("url", cmd.URL),
		zap.String("target", cmd.Target))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches = appendBounded(r.launches, RecordedLaunch{LaunchCommand: cmd, At: r.now().UTC()})
	return nil
}

// Errors returns the recorded errors, oldest first.
func (r *Recorder) Errors() []RecordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedError(nil), r.errors...)
}

// Launches returns the recorded launch commands, oldest first.
func (r *Recorder) Launches() []RecordedLaunch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedLaunch(nil), r.launches...)
}

func appendBounded[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > maxRecorded {
		s = s[len(s)-maxRecorded:]
	}
	return s
}
