package postprocess

import "math"

// Point is a 2D pixel coordinate.
type Point struct {
	X, Y float64
}

// extractPolygon implements step 4: crop the mask to the box, resize
// to box pixel size with nearest neighbor, find the largest
// 8-connected component via BFS, take its boundary, compute the
// convex hull, simplify with Ramer-Douglas-Peucker, and insert
// sharp-angle vertices. Falls back to the axis-aligned rectangle on
// any failure.
func extractPolygon(c *candidate, maskThreshold float64) []Point {
	boxX, boxY, boxW, boxH := c.boxPixel[0], c.boxPixel[1], c.boxPixel[2], c.boxPixel[3]
	rectFallback := []Point{
		{boxX, boxY}, {boxX + boxW, boxY}, {boxX + boxW, boxY + boxH}, {boxX, boxY + boxH},
	}
	outW := int(math.Round(boxW))
	outH := int(math.Round(boxH))
	if outW <= 0 || outH <= 0 {
		return rectFallback
	}
	maskBoxX := (c.cx - c.w/2) * float64(c.mw)
	maskBoxY := (c.cy - c.h/2) * float64(c.mh)
	maskBoxW := c.w * float64(c.mw)
	maskBoxH := c.h * float64(c.mh)
	binary := cropResizeBinarize(c.mask, c.mh, c.mw, maskBoxX, maskBoxY, maskBoxW, maskBoxH, outW, outH, maskThreshold)
	component := largestComponentBFS(binary, outW, outH)
	if len(component) == 0 {
		return rectFallback
	}
	boundary := boundaryPixels(component, outW, outH)
	if len(boundary) < 3 {
		return rectFallback
	}
	hull := convexHull(boundary)
	if len(hull) < 3 {
		return rectFallback
	}
	perimeter := polygonPerimeter(hull)
	simplified := rdpClosed(hull, 0.004*perimeter)
	if len(simplified) < 3 {
		simplified = hull
	}
	withSharp := insertSharpAngles(simplified)
	out := make([]Point, len(withSharp))
	for i, p := range withSharp {
		out[i] = Point{X: p.X + boxX, Y: p.Y + boxY}
	}
	return out
}

// cropResizeBinarize crops the Mh×Mw mask to the (maskBoxX,Y,W,H)
// sub-rectangle in mask-resolution coordinates, resizes that crop to
// outW×outH with nearest-neighbor sampling, and binarizes at
// threshold (spec.md §4.3.7 step 4).
func cropResizeBinarize(mask []float32, mh, mw int, maskBoxX, maskBoxY, maskBoxW, maskBoxH float64, outW, outH int, threshold float64) []bool {
	out := make([]bool, outW*outH)
	if maskBoxW <= 0 || maskBoxH <= 0 {
		return out
	}
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			srcX := maskBoxX + (float64(ox)+0.5)/float64(outW)*maskBoxW
			srcY := maskBoxY + (float64(oy)+0.5)/float64(outH)*maskBoxH
			mx := clampInt(int(math.Floor(srcX)), 0, mw-1)
			my := clampInt(int(math.Floor(srcY)), 0, mh-1)
			v := mask[my*mw+mx]
			out[oy*outW+ox] = sigmoid64(v) > threshold
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func largestComponentBFS(binary []bool, w, h int) []int {
	visited := make([]bool, len(binary))
	var best []int
	queue := make([]int, 0, len(binary))
	for start := 0; start < len(binary); start++ {
		if visited[start] || !binary[start] {
			continue
		}
		queue = queue[:0]
		queue = append(queue, start)
		visited[start] = true
		component := []int{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			cx, cy := cur%w, cur/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := cx+dx, cy+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					idx := ny*w + nx
					if !visited[idx] && binary[idx] {
						visited[idx] = true
						queue = append(queue, idx)
						component = append(component, idx)
					}
				}
			}
		}
		if len(component) > len(best) {
			best = component
		}
	}
	return best
}

func boundaryPixels(component []int, w, h int) []Point {
	inSet := make(map[int]bool, len(component))
	for _, idx := range component {
		inSet[idx] = true
	}
	var boundary []Point
	for _, idx := range component {
		x, y := idx%w, idx/w
		isBoundary := false
		for dy := -1; dy <= 1 && !isBoundary; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h || !inSet[ny*w+nx] {
					isBoundary = true
					break
				}
			}
		}
		if isBoundary {
			boundary = append(boundary, Point{X: float64(x), Y: float64(y)})
		}
	}
	return boundary
}

// convexHull computes the convex hull via Andrew's monotone chain.
func convexHull(points []Point) []Point {
	pts := append([]Point(nil), points...)
	sortPoints(pts)
	pts = dedupSorted(pts)
	if len(pts) < 3 {
		return pts
	}
	cross := func(o, a, b Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	var lower, upper []Point
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

func sortPoints(pts []Point) {
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0 && (pts[j-1].X > pts[j].X || (pts[j-1].X == pts[j].X && pts[j-1].Y > pts[j].Y)); j-- {
			pts[j-1], pts[j] = pts[j], pts[j-1]
		}
	}
}

func dedupSorted(pts []Point) []Point {
	out := pts[:0:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			out = append(out, p)
		}
	}
	return out
}

func polygonPerimeter(pts []Point) float64 {
	var total float64
	for i := range pts {
		j := (i + 1) % len(pts)
		total += dist(pts[i], pts[j])
	}
	return total
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// rdpClosed runs Ramer-Douglas-Peucker on a closed polygon by
// splitting at the two points farthest apart and simplifying each
// half independently.
func rdpClosed(pts []Point, epsilon float64) []Point {
	if len(pts) < 3 {
		return pts
	}
	i0, i1 := farthestPair(pts)
	first := rdpOpen(rotateSlice(pts, i0, i1), epsilon)
	second := rdpOpen(rotateSlice(pts, i1, i0), epsilon)
	out := append([]Point{}, first...)
	out = append(out, second[1:]...)
	return out
}

func farthestPair(pts []Point) (int, int) {
	bi, bj := 0, 1
	best := -1.0
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			d := dist(pts[i], pts[j])
			if d > best {
				best, bi, bj = d, i, j
			}
		}
	}
	return bi, bj
}

func rotateSlice(pts []Point, from, to int) []Point {
	var out []Point
	i := from
	for {
		out = append(out, pts[i])
		if i == to {
			break
		}
		i = (i + 1) % len(pts)
	}
	return out
}

func rdpOpen(pts []Point, epsilon float64) []Point {
	if len(pts) < 3 {
		return pts
	}
	start, end := pts[0], pts[len(pts)-1]
	maxDist := -1.0
	maxIdx := -1
	for i := 1; i < len(pts)-1; i++ {
		d := perpendicularDistance(pts[i], start, end)
		if d > maxDist {
			maxDist, maxIdx = d, i
		}
	}
	if maxDist <= epsilon {
		return []Point{start, end}
	}
	left := rdpOpen(pts[:maxIdx+1], epsilon)
	right := rdpOpen(pts[maxIdx:], epsilon)
	return append(left[:len(left)-1], right...)
}

func perpendicularDistance(p, a, b Point) float64 {
	if a == b {
		return dist(p, a)
	}
	num := math.Abs((p.X-a.X)*(b.Y-a.Y) - (p.Y-a.Y)*(b.X-a.X))
	return num / dist(a, b)
}

// insertSharpAngles implements the sharp-angle vertex insertion rule:
// for each concave vertex where |angle-45deg| < 1deg, insert a point
// along the bisector at distance (|v1|+|v2|)/2.
func insertSharpAngles(pts []Point) []Point {
	n := len(pts)
	if n < 3 {
		return pts
	}
	out := make([]Point, 0, n*2)
	for i := 0; i < n; i++ {
		prev := pts[(i-1+n)%n]
		cur := pts[i]
		next := pts[(i+1)%n]
		out = append(out, cur)
		v1 := Point{X: prev.X - cur.X, Y: prev.Y - cur.Y}
		v2 := Point{X: next.X - cur.X, Y: next.Y - cur.Y}
		len1, len2 := math.Hypot(v1.X, v1.Y), math.Hypot(v2.X, v2.Y)
		if len1 == 0 || len2 == 0 {
			continue
		}
		cosA := (v1.X*v2.X + v1.Y*v2.Y) / (len1 * len2)
		angle := math.Acos(clamp(cosA, -1, 1)) * 180 / math.Pi
		if math.Abs(angle-45) < 1 {
			bx := v1.X/len1 + v2.X/len2
			by := v1.Y/len1 + v2.Y/len2
			blen := math.Hypot(bx, by)
			if blen == 0 {
				continue
			}
			d := (len1 + len2) / 2
			out = append(out, Point{X: cur.X + bx/blen*d, Y: cur.Y + by/blen*d})
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
