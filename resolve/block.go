package resolve

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// BlockAverage down-samples a [blocks][rows][cols] grid stored row-major in
// grid by averaging factor x factor windows within each block.
//
// The result has dimensions [blocks][rows/factor][cols/factor]. Trailing
// rows and columns that do not fill a whole window are dropped. A window
// holding any value rejected by Options.Valid yields Fill.
func BlockAverage(grid []float64, dims [3]int, factor int, optFns ...func(*Options)) ([]float64, [3]int, error) {
	opts := newOptions(optFns)

	blocks, rows, cols := dims[0], dims[1], dims[2]
	if factor <= 0 || blocks < 0 || rows < 0 || cols < 0 {
		return nil, [3]int{}, fmt.Errorf("%w: dims %v, factor %d", ErrInvalidGrid, dims, factor)
	}
	if len(grid) != blocks*rows*cols {
		return nil, [3]int{}, fmt.Errorf("%w: %d values for dims %v", ErrInvalidGrid, len(grid), dims)
	}

	outRows, outCols := rows/factor, cols/factor
	out := make([]float64, blocks*outRows*outCols)
	window := make([]float64, factor*factor)

	for b := range blocks {
		base := b * rows * cols
		for r := range outRows {
			for c := range outCols {
				out[(b*outRows+r)*outCols+c] = averageWindow(grid, window, base, r*factor, c*factor, cols, factor, &opts)
			}
		}
	}

	return out, [3]int{blocks, outRows, outCols}, nil
}

func averageWindow(grid, window []float64, base, row, col, cols, factor int, opts *Options) float64 {
	n := 0
	for a := row; a < row+factor; a++ {
		for c := col; c < col+factor; c++ {
			v := grid[base+a*cols+c]
			if !opts.Valid(v) {
				return opts.Fill
			}
			window[n] = v
			n++
		}
	}
	return stat.Mean(window[:n], nil)
}
