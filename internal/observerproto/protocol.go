package observerproto

// Version is the observer protocol version (separate from the player WS protocol).
const Version = "0.1"

const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeMiningState = "MINING_STATE"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the interval or filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	IntervalMS      int    `json:"interval_ms"`

	// Optional: only report this actor's tasks.
	ActorID string `json:"actor_id,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Materials       []string    `json:"materials"`
}

type WorldParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	GroundY    int   `json:"ground_y"`
	StoneDepth int   `json:"stone_depth"`
	Seed       int64 `json:"seed"`
}

// Server -> Client. Sent every subscribed interval.
type MiningStateMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Clients         int         `json:"clients"`
	Stats           StatsState  `json:"stats"`
	Tasks           []TaskState `json:"tasks"`
}

type StatsState struct {
	SweepTicks     uint64 `json:"sweep_ticks"`
	Actors         int    `json:"actors"`
	Tasks          int    `json:"tasks"`
	Active         int    `json:"active"`
	Paused         int    `json:"paused"`
	PendingCommits int    `json:"pending_commits"`
	PortFailures   int    `json:"port_failures"`
}

type TaskState struct {
	ActorID   string  `json:"actor_id"`
	Pos       [3]int  `json:"pos"`
	Material  string  `json:"material"`
	State     string  `json:"state"`
	Enabled   bool    `json:"enabled"`
	Suspended bool    `json:"suspended,omitempty"`
	Percent   float64 `json:"percent"`
	Progress  float64 `json:"progress_ticks"`
	Required  float64 `json:"required_ticks"`
	Frame     int     `json:"frame"`
}
