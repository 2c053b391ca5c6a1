package models

import (
	"fmt"

	"github.com/zarigata/MP3paraMIDI/logging"
)

// ProgressFunc receives stage progress in [0, 1] with a short status
// message. Callbacks may be nil.
type ProgressFunc func(value float64, message string)

// reportProgress invokes the callback with a clamped value. A panicking
// callback is logged and swallowed so a broken consumer cannot abort a
// long model run.
func reportProgress(logger logging.Logger, progress ProgressFunc, value float64, message string) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("progress callback panicked", logging.Fields{"error": fmt.Sprint(r)})
		}
	}()

	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	progress(value, message)
}
