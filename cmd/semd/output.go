package main

import (
	"os"

	"github.com/pbergman/logger"
)

func getOutput(debug bool) *logger.Logger {

	var handler = make([]logger.HandlerInterface, 0)

	if debug {
		handler = append(handler, logger.NewWriterHandler(os.Stdout, logger.LogLevelDebug()^logger.LogLevelError(), false))
		handler = append(handler, logger.NewWriterHandler(os.Stderr, logger.LogLevelError(), false))
	} else {
		handler = append(handler, logger.NewThresholdHandler(
			logger.NewWriterHandler(os.Stdout, logger.LogLevelDebug(), false), 20, logger.Error, false,
		))
	}

	return logger.NewLogger("semd", handler...)
}
