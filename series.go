package rigscope

import "math"

const DefaultWindowSize = 100

type Point struct {
	X float64
	Y float64
}

// Series is one plot's bounded history. Only the most recent points are
// kept; appending to a full series evicts the oldest point.
//
// Series is not safe for concurrent use. The Dispatcher owning it serializes
// all access.
type Series struct {
	points  *ThreadUnsafeRing[Point]
	dropped uint64
}

func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}

	return &Series{
		points: NewRing[Point](capacity),
	}
}

// Append adds a point at the end. Points with a NaN or infinite coordinate
// are not stored and are counted in Dropped instead.
func (s *Series) Append(x, y float64) bool {
	if !isFinite(x) || !isFinite(y) {
		s.dropped++
		return false
	}

	s.points.Push(Point{X: x, Y: y})
	return true
}

func (s *Series) Clear() {
	s.points.Clear()
}

// Render returns a copy of the points currently held, oldest first.
func (s *Series) Render() []Point {
	return s.points.ReadAllOrdered()
}

func (s *Series) Len() int {
	return s.points.Len()
}

func (s *Series) Capacity() int {
	return s.points.Capacity()
}

// Dropped is the number of non-finite points rejected by Append.
func (s *Series) Dropped() uint64 {
	return s.dropped
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
