package rigscope

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

const DefaultLogCapacity = 100

// LogBuffer is the console: the most recent text lines, oldest first. Every
// append past capacity removes exactly one line, the oldest one.
//
// When tee is set, every appended line is also written to it. Like Series,
// LogBuffer relies on its owner for synchronization.
type LogBuffer struct {
	lines *ThreadUnsafeRing[string]
	tee   io.Writer

	logger logrus.FieldLogger
}

func NewLogBuffer(capacity int, tee io.Writer) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}

	return &LogBuffer{
		lines:  NewRing[string](capacity),
		tee:    tee,
		logger: logrus.WithField("tag", "LogBuffer"),
	}
}

func (b *LogBuffer) AppendLine(text string) {
	b.lines.Push(text)

	if b.tee != nil {
		if _, err := fmt.Fprintln(b.tee, text); err != nil {
			b.logger.WithError(err).Debug("failed to mirror console line")
		}
	}
}

func (b *LogBuffer) Lines() []string {
	return b.lines.ReadAllOrdered()
}

// Tail returns the newest n lines, oldest first.
func (b *LogBuffer) Tail(n int) []string {
	return b.lines.ReadLast(n)
}

func (b *LogBuffer) Len() int {
	return b.lines.Len()
}

func (b *LogBuffer) Capacity() int {
	return b.lines.Capacity()
}

// Formats the console line for one reading on one view.
func FormatReading(title string, sample Sample) string {
	return fmt.Sprintf("%s Time: %.2fs, Value: %.2f", title, sample.Timestamp, sample.Value)
}
