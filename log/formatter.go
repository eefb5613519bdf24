package log

import (
	"github.com/sirupsen/logrus"
)

// RawFormatter writes only the message of an entry, with a newline.
type RawFormatter struct{}

// Format implements logrus.Formatter.
func (RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}
