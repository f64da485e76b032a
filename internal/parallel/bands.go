package parallel

// Band is a half-open range of rows [Y0, Y1).
type Band struct {
	Y0, Y1 int
}

// Rows returns the number of rows in the band.
func (b Band) Rows() int {
	return b.Y1 - b.Y0
}

// SplitRows divides [0, height) into contiguous bands covering every row
// exactly once. Bands have bandHeight rows except possibly the last one.
// If bandHeight is 0 or less, the rows are split into about `parts`
// equal bands. A non-positive height yields no bands.
func SplitRows(height, bandHeight, parts int) []Band {
	if height <= 0 {
		return nil
	}
	if bandHeight <= 0 {
		if parts <= 0 {
			parts = 1
		}
		bandHeight = (height + parts - 1) / parts
	}
	if bandHeight > height {
		bandHeight = height
	}

	bands := make([]Band, 0, (height+bandHeight-1)/bandHeight)
	for y := 0; y < height; y += bandHeight {
		end := y + bandHeight
		if end > height {
			end = height
		}
		bands = append(bands, Band{Y0: y, Y1: end})
	}
	return bands
}
