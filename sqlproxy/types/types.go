package types

// APIVersion is the version of the host interface. Guests and clients pass
// the version they were built against to OpenDB.
const APIVersion = 1

// --- JSON structures for the HTTP API ---

// ErrorResponse is returned for rejected batches. Offset and Expected are set
// when the batch was malformed.
type ErrorResponse struct {
	Error    string `json:"error"`
	Offset   *int   `json:"offset,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// DatabaseStatus describes one open database.
type DatabaseStatus struct {
	Name     string `json:"name"`
	Handle   int64  `json:"handle"`
	Sessions int    `json:"sessions"`
	Tables   int    `json:"tables"`
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	APIVersion    int              `json:"api_version"`
	SQLiteVersion string           `json:"sqlite_version"`
	Databases     []DatabaseStatus `json:"databases"`
}
