package protocol

// OBS (server -> client), one per tick.
type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	World     WorldObs     `json:"world"`
	Self      SelfObs      `json:"self"`
	Inventory []ItemStack  `json:"inventory"`
	Equipment EquipmentObs `json:"equipment"`

	Voxels   VoxelsObs   `json:"voxels"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
}

type WorldObs struct {
	TimeOfDay float64 `json:"time_of_day"` // 0..1
	Weather   string  `json:"weather"`
	SeasonDay int     `json:"season_day"`
	Biome     string  `json:"biome"`
}

type SelfObs struct {
	Pos        [3]int   `json:"pos"`
	Yaw        int      `json:"yaw"`
	HP         int      `json:"hp"`
	Hunger     int      `json:"hunger"`
	Saturation float64  `json:"saturation,omitempty"`
	Oxygen     int      `json:"oxygen,omitempty"`
	Stamina    float64  `json:"stamina"`
	Status     []string `json:"status"`
}

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type EquipmentObs struct {
	MainHand string   `json:"main_hand"`
	Armor    []string `json:"armor"`
}

type VoxelsObs struct {
	Center   [3]int         `json:"center"`
	Radius   int            `json:"radius"`
	Encoding string         `json:"encoding"` // "RLE" or "DELTA"
	Data     string         `json:"data,omitempty"`
	Ops      []VoxelDeltaOp `json:"ops,omitempty"`
}

type VoxelDeltaOp struct {
	D [3]int `json:"d"` // delta from center (dx,dy,dz)
	B uint16 `json:"b"` // block palette id
}

type EntityObs struct {
	ID   string   `json:"id"`
	Type string   `json:"type"` // "AGENT", "MOB", "ANIMAL", "ITEM", ...
	Name string   `json:"name,omitempty"`
	Pos  [3]int   `json:"pos"`
	Tags []string `json:"tags,omitempty"`
}

// Event is a loosely typed OBS event; see the Event* constants.
type Event map[string]interface{}

func (e Event) Str(key string) string {
	s, _ := e[key].(string)
	return s
}

func (e Event) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
	Cancel          []string     `json:"cancel,omitempty"`
}

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`

	ItemID   string `json:"item_id,omitempty"`
	Slot     string `json:"slot,omitempty"`
	Count    int    `json:"count,omitempty"`
	TargetID string `json:"target_id,omitempty"`

	Params map[string]interface{} `json:"params,omitempty"`
}

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`
	Distance  float64 `json:"distance,omitempty"`
	TargetID  string  `json:"target_id,omitempty"`

	BlockPos [3]int `json:"block_pos,omitempty"`
	RecipeID string `json:"recipe_id,omitempty"`
	Count    int    `json:"count,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
}
