package rigscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const DefaultSourceBufferSize = 1024

// BufferedSource adapts a blocking SampleReader to the non-blocking
// SampleSource contract. A goroutine reads into a bounded queue and
// NextSample pops one ready sample per call, returning ErrNoData when the
// queue is empty.
//
// Once the reader fails or reaches EOF the goroutine exits, the error is kept
// in Err, and NextSample keeps returning ErrNoData after the queue drains.
type BufferedSource struct {
	input   SampleReader
	samples chan Sample
	closer  io.Closer

	wg sync.WaitGroup

	// Set once the reader stops. err must only be read after ended is true.
	ended atomic.Bool
	err   error

	// Samples read while the queue was full.
	overflow atomic.Uint64

	logger logrus.FieldLogger
}

func NewBufferedSource(input SampleReader, capacity int, closer io.Closer) *BufferedSource {
	if capacity <= 0 {
		capacity = DefaultSourceBufferSize
	}

	return &BufferedSource{
		input:   input,
		samples: make(chan Sample, capacity),
		closer:  closer,
		logger:  logrus.WithField("tag", "BufferedSource"),
	}
}

func (s *BufferedSource) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(ctx)

		s.err = err
		s.ended.Store(true)

		logger := s.logger.WithField("overflow", s.overflow.Load())
		if err != nil {
			logger = logger.WithError(err)
		}
		logger.Info("sample reader stopped")
	}()

	// Blocking reads on a port cannot observe ctx, so closing the port is
	// what unblocks the reader on shutdown.
	if s.closer != nil {
		go func() {
			<-ctx.Done()
			s.Close()
		}()
	}
}

func (s *BufferedSource) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		sample, err := s.input.Read(ctx)
		if err == errIgnoreThisLine {
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case s.samples <- sample:
		default:
			s.overflow.Add(1)
		}
	}
}

func (s *BufferedSource) NextSample(ctx context.Context) (Sample, error) {
	select {
	case sample := <-s.samples:
		return sample, nil
	default:
		return Sample{}, ErrNoData
	}
}

// Ended reports whether the reader goroutine has exited.
func (s *BufferedSource) Ended() bool {
	return s.ended.Load()
}

// Err returns the error that stopped the reader, nil on EOF, cancellation,
// or while it is still running.
func (s *BufferedSource) Err() error {
	if !s.ended.Load() {
		return nil
	}
	return s.err
}

func (s *BufferedSource) Overflow() uint64 {
	return s.overflow.Load()
}

func (s *BufferedSource) Health() SourceHealth {
	health := SourceHealth{
		Ended:    s.Ended(),
		Overflow: s.Overflow(),
	}
	if err := s.Err(); err != nil {
		health.Err = err.Error()
	}
	return health
}

func (s *BufferedSource) Wait() {
	s.wg.Wait()
}

func (s *BufferedSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// NewReaderSource reads samples from text lines on r, typically stdin.
func NewReaderSource(r io.Reader, strictCsv bool) *BufferedSource {
	return NewBufferedSource(&LineSampleReader{Input: newStringReader(r, strictCsv)}, DefaultSourceBufferSize, nil)
}

type SerialOptions struct {
	Device    string
	Baud      int
	StrictCsv bool
	// Zero blocks reads until data arrives.
	ReadTimeout time.Duration
}

var ErrSerialUnavailable = errors.New("serial port unavailable")

// OpenSerialSource opens the rig's serial port. Each line the device writes
// is one sample in the LineSampleReader format.
func OpenSerialSource(options SerialOptions) (*BufferedSource, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        options.Device,
		Baud:        options.Baud,
		ReadTimeout: options.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialUnavailable, options.Device, err)
	}

	logrus.WithFields(logrus.Fields{
		"tag":    "SerialSource",
		"device": options.Device,
		"baud":   options.Baud,
	}).Info("opened serial port")

	reader := &LineSampleReader{Input: newStringReader(port, options.StrictCsv)}
	return NewBufferedSource(reader, DefaultSourceBufferSize, port), nil
}

func newStringReader(r io.Reader, strictCsv bool) StringReader {
	if strictCsv {
		return NewCsvStringReader(r)
	}
	return NewRelaxedStringReader(r)
}
