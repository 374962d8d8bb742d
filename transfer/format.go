package transfer

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a size in 1024-based units with at most two decimals,
// e.g. "1.5 KB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}

	value := float64(n)
	i := 0
	for value >= 1024 && i < len(byteUnits)-1 {
		value /= 1024
		i++
	}
	value = math.Round(value*100) / 100

	return strconv.FormatFloat(value, 'f', -1, 64) + " " + byteUnits[i]
}

// FormatETA renders a remaining time as "0s", "Ns" or "Mm Ss".
func FormatETA(d time.Duration) string {
	seconds := d.Seconds()
	if seconds <= 0 {
		return "0s"
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", int(math.Ceil(seconds)))
	}
	minutes := int(seconds / 60)
	rest := int(math.Ceil(math.Mod(seconds, 60)))
	return fmt.Sprintf("%dm %ds", minutes, rest)
}
