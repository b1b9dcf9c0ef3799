// Package progress provides progress reporting for long-running simulation
// runs.
package progress

// Callback reports progress during a run: days completed, total days in
// the range, and a human-readable description of the current phase.
//
// A nil Callback is valid and is safely ignored by the Call helper.
type Callback func(current, total int, message string)

// Call invokes the callback if non-nil, so callers can report progress
// without checking.
func Call(cb Callback, current, total int, message string) {
	if cb != nil {
		cb(current, total, message)
	}
}
