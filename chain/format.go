package chain

import (
	"fmt"

	"github.com/CADMonkey21/dlt-miner-go/netparams"
)

// FormatDLT renders base units as "whole.frac" with 8 fractional digits.
func FormatDLT(amount int64) string {
	unit := netparams.ActiveNetwork.Unit
	whole := amount / unit
	frac := amount % unit
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%08d", whole, frac)
}
