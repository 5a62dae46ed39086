// Package logging builds the process logger: ectologger structured messages
// drained through a zap core.
package logging

import (
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
)

// New creates the process logger. Pretty enables the development zap config
// for local runs.
func New(pretty bool) (ectologger.Logger, func()) {
	var zl *zap.Logger
	if pretty {
		zl, _ = zap.NewDevelopment()
	} else {
		zl, _ = zap.NewProduction()
	}
	sink := zl.Sugar()

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			sink.Errorw("failed to encode log message", "error", err)
			return
		}
		sink.Info(string(data))
	})

	return logger, func() { _ = zl.Sync() }
}
