package rigscope

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// drain pulls samples until the source reports ErrNoData.
func drain(t *testing.T, s SampleSource) []Sample {
	t.Helper()

	var samples []Sample
	for {
		sample, err := s.NextSample(context.Background())
		if errors.Is(err, ErrNoData) {
			return samples
		}
		if err != nil {
			t.Fatalf("NextSample() error = %v", err)
		}
		samples = append(samples, sample)
	}
}

type closeRecorder struct{ closed chan struct{} }

func (c *closeRecorder) Close() error {
	close(c.closed)
	return nil
}

// blockingSampleReader blocks until its context is canceled.
type blockingSampleReader struct{}

func (blockingSampleReader) Read(ctx context.Context) (Sample, error) {
	<-ctx.Done()
	return Sample{}, ctx.Err()
}

func TestBufferedSource(t *testing.T) {
	t.Run("no data before start", func(t *testing.T) {
		s := NewReaderSource(strings.NewReader("1 2\n"), false)
		if _, err := s.NextSample(context.Background()); !errors.Is(err, ErrNoData) {
			t.Fatalf("expected ErrNoData, got %v", err)
		}
	})

	t.Run("drains lines in order and skips garbage", func(t *testing.T) {
		s := NewReaderSource(strings.NewReader("0.02 10\nnot a number\n0.04,20\n\n0.06\t30\n"), false)
		s.Start(context.Background())
		s.Wait()

		want := []Sample{
			{Timestamp: 0.02, Value: 10},
			{Timestamp: 0.04, Value: 20},
			{Timestamp: 0.06, Value: 30},
		}
		if got := drain(t, s); !reflect.DeepEqual(got, want) {
			t.Fatalf("samples = %v, want %v", got, want)
		}

		if !s.Ended() {
			t.Fatalf("expected source to have ended on EOF")
		}
		if s.Err() != nil {
			t.Fatalf("EOF should not be reported as an error, got %v", s.Err())
		}
		if _, err := s.NextSample(context.Background()); !errors.Is(err, ErrNoData) {
			t.Fatalf("expected ErrNoData after the stream ended, got %v", err)
		}
	})

	t.Run("strict csv", func(t *testing.T) {
		s := NewReaderSource(strings.NewReader("1,2\n3,4\n"), true)
		s.Start(context.Background())
		s.Wait()

		want := []Sample{{Timestamp: 1, Value: 2}, {Timestamp: 3, Value: 4}}
		if got := drain(t, s); !reflect.DeepEqual(got, want) {
			t.Fatalf("samples = %v, want %v", got, want)
		}
	})

	t.Run("reader error is kept", func(t *testing.T) {
		boom := errors.New("port unplugged")
		s := NewReaderSource(&errReader{err: boom}, false)
		s.Start(context.Background())
		s.Wait()

		if !errors.Is(s.Err(), boom) {
			t.Fatalf("Err() = %v, want %v", s.Err(), boom)
		}
		if _, err := s.NextSample(context.Background()); !errors.Is(err, ErrNoData) {
			t.Fatalf("expected ErrNoData, got %v", err)
		}
	})

	t.Run("overflow is counted", func(t *testing.T) {
		input := strings.Repeat("1 1\n", 10)
		s := NewBufferedSource(&LineSampleReader{Input: NewRelaxedStringReader(strings.NewReader(input))}, 4, nil)
		s.Start(context.Background())
		s.Wait()

		if got := len(drain(t, s)); got != 4 {
			t.Fatalf("drained %d samples, want 4", got)
		}
		if s.Overflow() != 6 {
			t.Fatalf("Overflow() = %d, want 6", s.Overflow())
		}
	})

	t.Run("cancel closes the port and stops the reader", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		closer := &closeRecorder{closed: make(chan struct{})}
		s := NewBufferedSource(blockingSampleReader{}, 4, closer)
		s.Start(ctx)
		cancel()

		select {
		case <-closer.closed:
		case <-time.After(time.Second):
			t.Fatalf("port was not closed on cancel")
		}

		s.Wait()
		if s.Err() != nil {
			t.Fatalf("cancellation should not be reported as an error, got %v", s.Err())
		}
	})
}

func TestOpenSerialSourceMissingDevice(t *testing.T) {
	_, err := OpenSerialSource(SerialOptions{Device: "/dev/rigscope-does-not-exist", Baud: 115200})
	if !errors.Is(err, ErrSerialUnavailable) {
		t.Fatalf("expected ErrSerialUnavailable, got %v", err)
	}
}
