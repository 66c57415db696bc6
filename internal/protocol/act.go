package protocol

// Dig statuses, mirroring the client's player-digging packet.
const (
	DigStart = "START"
	DigAbort = "ABORT"
	DigStop  = "STOP"
)

// ACT (client -> server). Exactly one of the action fields is set.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq,omitempty"`

	Dig     *DigAct     `json:"dig,omitempty"`
	Look    *LookAct    `json:"look,omitempty"`
	Hold    *HoldAct    `json:"hold,omitempty"`
	Effects *EffectsAct `json:"effects,omitempty"`
	Env     *EnvAct     `json:"env,omitempty"`
}

type DigAct struct {
	Status string `json:"status"`
	Pos    [3]int `json:"pos"`
}

// LookAct reports that the player turned away from (or back to) its target.
type LookAct struct {
	Away bool `json:"away"`
}

type HoldAct struct {
	Item       string `json:"item"`
	Efficiency int    `json:"efficiency,omitempty"`
	Unbreaking int    `json:"unbreaking,omitempty"`
}

type EffectsAct struct {
	Haste   int `json:"haste"`
	Fatigue int `json:"fatigue"`
}

type EnvAct struct {
	Submerged bool `json:"submerged"`
	Grounded  bool `json:"grounded"`
}

// Count reports how many action fields are set.
func (m ActMsg) Count() int {
	n := 0
	if m.Dig != nil {
		n++
	}
	if m.Look != nil {
		n++
	}
	if m.Hold != nil {
		n++
	}
	if m.Effects != nil {
		n++
	}
	if m.Env != nil {
		n++
	}
	return n
}
