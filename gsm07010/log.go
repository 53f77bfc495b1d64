package gsm07010

import (
	"os"

	"github.com/charmbracelet/log"
)

// newDefaultLogger is used when a Connection is not given one of its
// own via WithLogger. Subsystems tag their lines with a "component"
// key instead of each carrying a distinct prefix, matching charmbracelet/log's
// structured-field idiom.
func newDefaultLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
}
