package postprocess

// unclip implements step 8: expand each box from its center by
// max(1, ratio) along x and y, clamped to the page bounds.
func unclip(d detection, ratioX, ratioY float64, pageWidth, pageHeight float64) detection {
	if ratioX < 1 {
		ratioX = 1
	}
	if ratioY < 1 {
		ratioY = 1
	}
	x, y, w, h := d.boxPixel[0], d.boxPixel[1], d.boxPixel[2], d.boxPixel[3]
	cx, cy := x+w/2, y+h/2
	nw, nh := w*ratioX, h*ratioY
	nx, ny := cx-nw/2, cy-nh/2

	nx = clamp(nx, 0, pageWidth)
	ny = clamp(ny, 0, pageHeight)
	nx2 := clamp(nx+nw, 0, pageWidth)
	ny2 := clamp(ny+nh, 0, pageHeight)

	d.boxPixel = [4]float64{nx, ny, nx2 - nx, ny2 - ny}
	return d
}
