// Package ids generates the identifiers used for sessions and audit entries.
package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID. IDs sort by creation time, so a session's audit trail
// replays in order and the id doubles as a pagination cursor.
func New() string {
	return ulid.Make().String()
}
