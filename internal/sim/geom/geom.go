package geom

import "math"

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func V(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

func (v Vec2) Add(o Vec2) Vec2        { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2        { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(f float64) Vec2   { return Vec2{X: v.X * f, Y: v.Y * f} }
func (v Vec2) SquaredLength() float64 { return v.X*v.X + v.Y*v.Y }
func (v Vec2) Length() float64        { return math.Sqrt(v.SquaredLength()) }
func (v Vec2) IsZero() bool           { return v.X == 0 && v.Y == 0 }

// Lerp moves from a toward b by factor t (0 keeps a, 1 reaches b).
func Lerp(a, b Vec2, t float64) Vec2 {
	return Vec2{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

// Rect is an axis-aligned rectangle; Min is the top-left corner (y grows down).
type Rect struct {
	Min Vec2 `json:"min"`
	Max Vec2 `json:"max"`
}

// RectAround returns the square of half-extent r centered on c.
func RectAround(c Vec2, r float64) Rect {
	return Rect{Min: Vec2{X: c.X - r, Y: c.Y - r}, Max: Vec2{X: c.X + r, Y: c.Y + r}}
}

func (r Rect) Offset(v Vec2) Rect { return Rect{Min: r.Min.Add(v), Max: r.Max.Add(v)} }

func (r Rect) Intersects(o Rect) bool {
	return r.Min.X < o.Max.X && o.Min.X < r.Max.X && r.Min.Y < o.Max.Y && o.Min.Y < r.Max.Y
}

func (r Rect) Width() float64  { return r.Max.X - r.Min.X }
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// Transform is a 2D position plus rotation in radians.
type Transform struct {
	Position Vec2    `json:"position"`
	Rotation float64 `json:"rotation"`
}

type Velocity struct {
	Linear  Vec2    `json:"linear"`
	Angular float64 `json:"angular"`
}
