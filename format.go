package main

import "fmt"

// statusf prints user-facing status output to stdout unless --quiet is
// set. Status lines are for humans; scripts should parse command output
// (e.g. check-cached), not these.
func statusf(format string, args ...any) {
	if flagQuiet {
		return
	}

	fmt.Printf(format, args...)
}

// formatSize renders a byte count with a binary-unit suffix for quota
// display.
func formatSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
