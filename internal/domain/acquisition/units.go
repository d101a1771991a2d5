package acquisition

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// tenthsOfMillimetersPerInch is 25.4 mm expressed in tenths of a millimeter.
var tenthsOfMillimetersPerInch = decimal.NewFromInt(254)

// MillimetersToPixels converts a length in millimeters to device pixels at dpi.
// The result is round(mm / 25.4 * dpi) with ties rounded away from zero. The quotient
// is computed as (mm * dpi * 10) / 254 in decimal arithmetic so that no binary
// floating point value is involved.
func MillimetersToPixels(mm, dpi int) int {
	if mm == 0 || dpi == 0 {
		return 0
	}
	tenths := decimal.NewFromInt(int64(mm)).
		Mul(decimal.NewFromInt(int64(dpi))).
		Mul(decimal.NewFromInt(10))
	return int(tenths.DivRound(tenthsOfMillimetersPerInch, 0).IntPart())
}

// ResolvePageSize returns the horizontal and vertical millimeters of a preset.
func ResolvePageSize(p PageSize) (horizontalMM, verticalMM int, err error) {
	e, ok := pageSizes[p]
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown page size %s", ErrInvalidArgument, p)
	}
	return e.Horizontal, e.Vertical, nil
}
