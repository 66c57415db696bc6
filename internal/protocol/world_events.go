package protocol

// ResetStage is the BLOCK_DAMAGE stage that clears the crack overlay.
const ResetStage = 10

// BLOCK_DAMAGE (server -> client): crack overlay stage 0..9, or ResetStage.
type BlockDamageMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Stage           int    `json:"stage"`
}

// BLOCK_CHANGE (server -> client)
type BlockChangeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Block           string `json:"block"`
}

// DESTROY_EFFECT (server -> client): break particles and sound.
type DestroyEffectMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Material        string `json:"material"`
}

// SUPPRESS_DIG (server -> client) tells the client not to predict block
// damage locally; the server drives the overlay.
type SuppressDigMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

type ItemStack struct {
	Item       string `json:"item"`
	Count      int    `json:"count"`
	Durability int    `json:"durability,omitempty"`
}

// INVENTORY (server -> client)
type InventoryMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Held            string      `json:"held"`
	Items           []ItemStack `json:"items"`
}
