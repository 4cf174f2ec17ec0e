// 平面向量运算，补充geometry.Point缺少的加减、缩放、点积等操作
// 约定：X-Y为地面平面，Z为高程，朝向角为atan2(dy, dx)
package geoutil

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
)

// Add a+b
func Add(a, b geometry.Point) geometry.Point {
	return geometry.Point{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// Sub a-b
func Sub(a, b geometry.Point) geometry.Point {
	return geometry.Point{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

// Scale a*k
func Scale(a geometry.Point, k float64) geometry.Point {
	return geometry.Point{X: a.X * k, Y: a.Y * k, Z: a.Z * k}
}

// Len2D 平面长度
func Len2D(a geometry.Point) float64 {
	return math.Hypot(a.X, a.Y)
}

// Distance2D 平面距离
func Distance2D(a, b geometry.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Dot2D 平面点积
func Dot2D(a, b geometry.Point) float64 {
	return a.X*b.X + a.Y*b.Y
}

// Normalize2D 平面单位向量，零向量原样返回
func Normalize2D(a geometry.Point) geometry.Point {
	l := Len2D(a)
	if l < 1e-9 {
		return geometry.Point{}
	}
	return geometry.Point{X: a.X / l, Y: a.Y / l}
}

// Heading 向量的朝向角
func Heading(a geometry.Point) float64 {
	return math.Atan2(a.Y, a.X)
}

// Unit 朝向角对应的单位向量
func Unit(heading float64) geometry.Point {
	return geometry.Point{X: math.Cos(heading), Y: math.Sin(heading)}
}

// RightNormal 朝向角右侧的单位法向量
func RightNormal(heading float64) geometry.Point {
	return Unit(heading - math.Pi/2)
}

// NormalizeAngle 将角度规范到(-π, π]
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// ForwardArc 从from逆时针转到to的角度，结果位于(0, 2π]
func ForwardArc(from, to float64) float64 {
	d := math.Mod(to-from, 2*math.Pi)
	if d < 0 {
		d += 2 * math.Pi
	}
	if d < 1e-6 {
		d += 2 * math.Pi
	}
	return d
}

// BlendAngle 朝向角插值，沿最短方向从a转向b，k∈[0,1]
func BlendAngle(a, b, k float64) float64 {
	return NormalizeAngle(a + NormalizeAngle(b-a)*k)
}

// QuadraticBezier 二次贝塞尔曲线上的点与切向量
func QuadraticBezier(p0, p1, p2 geometry.Point, u float64) (pos, tangent geometry.Point) {
	a := (1 - u) * (1 - u)
	b := 2 * (1 - u) * u
	c := u * u
	pos = geometry.Point{
		X: a*p0.X + b*p1.X + c*p2.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y,
		Z: a*p0.Z + b*p1.Z + c*p2.Z,
	}
	tangent = Add(Scale(Sub(p1, p0), 2*(1-u)), Scale(Sub(p2, p1), 2*u))
	return
}

// CubicBezier 三次贝塞尔曲线上的点
func CubicBezier(p0, p1, p2, p3 geometry.Point, u float64) geometry.Point {
	v := 1 - u
	a := v * v * v
	b := 3 * v * v * u
	c := 3 * v * u * u
	d := u * u * u
	return geometry.Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
		Z: a*p0.Z + b*p1.Z + c*p2.Z + d*p3.Z,
	}
}
