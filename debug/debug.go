// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — Cold-path collector diagnostics (zero-fmt)
//
// Purpose:
//   - Logs collection summaries, sizing decisions and fixie traces.
//   - Used only when the heap is configured Verbose / DebugFixies, or on abort.
//
// Notes:
//   - Avoids fmt.Sprintf: callers concatenate with utils.Itoa / utils.Hex.
//   - Writes straight to stderr through utils.PrintWarning.
//
// ⚠️ Never invoke from the copy loop unconditionally — gate on a config flag.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import "gengc/utils"

// DropError logs an error with a prefix, or just the prefix when err is nil.
//
//go:nosplit
//go:inline
func DropError(prefix string, err error) {
	if err != nil {
		utils.PrintWarning(prefix + ": " + err.Error() + "\n")
	} else {
		utils.PrintWarning(prefix + "\n")
	}
}

// DropMessage logs a tagged diagnostic line.
//
//go:nosplit
//go:inline
func DropMessage(prefix, message string) {
	utils.PrintWarning(prefix + ": " + message + "\n")
}
