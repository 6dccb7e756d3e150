// Package diag defines the JSON messages of the read-only diagnostics feed.
package diag

// Version of the diagnostics protocol.
const Version = "1.0"

// HelloMsg is what the server sends right after a session connects.
type HelloMsg struct {
	Type            string  `json:"type"` // "HELLO"
	ProtocolVersion string  `json:"protocol_version"`
	SessionID       string  `json:"session_id"`
	TickRateHz      int     `json:"tick_rate_hz"`
	ChunkSize       float64 `json:"chunk_size"`
	Seed            int64   `json:"seed"`
}

// StatsMsg carries one streaming-engine counter snapshot.
type StatsMsg struct {
	Type            string  `json:"type"` // "STATS"
	Tick            uint64  `json:"tick"`
	Passes          uint64  `json:"passes"`
	ObserverX       float64 `json:"observer_x"`
	ObserverY       float64 `json:"observer_y"`
	ObserverZ       float64 `json:"observer_z"`
	ViewDistance    float64 `json:"view_distance"`
	ActiveChunks    int     `json:"active_chunks"`
	VisibleChunks   int     `json:"visible_chunks"`
	Rendered        int     `json:"rendered"`
	GeneratedTotal  uint64  `json:"generated_total"`
	GenFailures     uint64  `json:"gen_failures"`
	UploadsThisTick int     `json:"uploads_this_tick"`
	UploadFailures  uint64  `json:"upload_failures"`
	InflightJobs    int     `json:"inflight_jobs"`
}
