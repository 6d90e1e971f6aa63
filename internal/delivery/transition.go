package delivery

import "github.com/npezzotti/go-roomrelay/internal/types"

// Advance returns the status a recipient moves to when requested is
// acknowledged while at current. An empty current means no record exists
// yet. The second result is false when the request would not move the
// recipient forward.
func Advance(current, requested types.Status) (types.Status, bool) {
	if !requested.Valid() {
		return current, false
	}
	if requested.Rank() <= current.Rank() {
		return current, false
	}
	return requested, true
}
