// logger/logger.go
package logger

import (
	"go.uber.org/zap"
)

// Log is the process-wide sugared logger. Init must run before anything
// else logs.
var Log *zap.SugaredLogger

func Init() {
	base, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = base.Named("chessserver").Sugar()
}
