package rigscope

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Text input (a serial port or stdin) flows through a StringReader, which
// splits each line into fields, then through a LineSampleReader, which turns
// the fields into a Sample. Both block; a BufferedSource runs them off the
// tick loop.

var errIgnoreThisLine = errors.New("ignore this line")

// When Read is called, return an array of strings which are the fields of
// the next line.
type StringReader interface {
	Read(context.Context) ([]string, error)
}

// Blocking producer of samples, wrapped by BufferedSource.
type SampleReader interface {
	Read(context.Context) (Sample, error)
}

// Reads strictly conforming CSV with the Golang csv module. If the device is
// not that disciplined (for example separated by one or more spaces), use the
// RelaxedStringReader.
type CsvStringReader struct {
	input     io.Reader
	csvReader *csv.Reader

	lineCount int
}

func NewCsvStringReader(input io.Reader) *CsvStringReader {
	csvReader := csv.NewReader(input)
	// Devices switch between "value" and "timestamp,value" lines.
	csvReader.FieldsPerRecord = -1

	return &CsvStringReader{
		input:     input,
		csvReader: csvReader,
		lineCount: 0,
	}
}

func (r *CsvStringReader) Read(ctx context.Context) ([]string, error) {
	line, err := r.csvReader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	r.lineCount++

	if err != nil {
		logger := logrus.WithFields(logrus.Fields{
			"tag":     "CsvString",
			"line":    line,
			"lineNum": r.lineCount,
		})

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			logger.WithError(err).Debug("unable to parse CSV, ignoring...")
			return nil, errIgnoreThisLine
		}

		logger.WithError(err).Error("unable to read CSV")
		return nil, err
	}

	return line, nil
}

// Splits on commas or runs of spaces and tabs. This is the default, since
// microcontroller firmware rarely emits strict CSV.
type RelaxedStringReader struct {
	input   io.Reader
	scanner *bufio.Scanner

	lineCount int
}

func NewRelaxedStringReader(input io.Reader) *RelaxedStringReader {
	return &RelaxedStringReader{
		input:   input,
		scanner: bufio.NewScanner(input),

		lineCount: 0,
	}
}

// Split on either comma or any number of spaces or tabs
var relaxedSplitter = regexp.MustCompile("[ \t]+|,")

func (r *RelaxedStringReader) Read(ctx context.Context) ([]string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			logrus.WithField("tag", "RelaxedString").WithError(err).Error("unable to read line")
			return nil, err
		}

		return nil, io.EOF
	}

	r.lineCount++

	// Serial lines usually end in \r\n; the scanner only strips the \n.
	line := strings.TrimSpace(r.scanner.Text())

	// Return only non-empty fields
	fields := Filter(relaxedSplitter.Split(line, -1), func(value string) bool {
		return len(value) > 0
	})

	if len(fields) == 0 {
		return nil, errIgnoreThisLine
	}

	return fields, nil
}

// Returns a generator of seconds elapsed since start.
func ElapsedSecondsSince(start time.Time) func() float64 {
	return func() float64 {
		return time.Since(start).Seconds()
	}
}

// Converts text lines to samples. A line is either "value" or
// "timestamp value", optionally behind a "label:" prefix as the rig firmware
// prints them:
//
//	RPM: 1234.50
//	Temp sensor 0: 71.60
//
// The label is everything before the last colon. Unparsable lines are
// ignored and logged via warnings.
type LineSampleReader struct {
	Input StringReader

	// Timestamp generator for lines without one. Defaults to the seconds
	// elapsed since the first such line.
	Timestamp func() float64
}

func (r *LineSampleReader) Read(ctx context.Context) (Sample, error) {
	fields, err := r.Input.Read(ctx)
	if err != nil {
		return Sample{}, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"tag":  "LineSample",
		"line": fields,
	})

	label, fields := splitLabel(fields)

	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			logger.Warn("cannot parse float, ignoring...")
			return Sample{}, errIgnoreThisLine
		}

		values = append(values, value)
	}

	switch len(values) {
	case 1:
		if r.Timestamp == nil {
			r.Timestamp = ElapsedSecondsSince(time.Now())
		}

		return Sample{Timestamp: r.Timestamp(), Value: values[0], Label: label}, nil
	case 2:
		return Sample{Timestamp: values[0], Value: values[1], Label: label}, nil
	default:
		logger.Warnf("expected 1 or 2 fields, got %d, ignoring...", len(values))
		return Sample{}, errIgnoreThisLine
	}
}

// splitLabel separates a "label: values" line. Fields without a colon are
// returned unchanged with an empty label.
func splitLabel(fields []string) (string, []string) {
	line := strings.Join(fields, " ")
	i := strings.LastIndex(line, ":")
	if i < 0 {
		return "", fields
	}

	return strings.TrimSpace(line[:i]), strings.Fields(line[i+1:])
}
