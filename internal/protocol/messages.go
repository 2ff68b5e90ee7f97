package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type              string            `json:"type"`
	ProtocolVersion   string            `json:"protocol_version"`
	SupportedVersions []string          `json:"supported_versions,omitempty"`
	AgentName         string            `json:"agent_name"`
	ClientVersion     string            `json:"client_version,omitempty"`
	Capabilities      HelloCapabilities `json:"capabilities"`
	Auth              *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	DeltaVoxels bool `json:"delta_voxels,omitempty"`
	MaxQueue    int  `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Mode  string `json:"mode,omitempty"`
	Token string `json:"token,omitempty"`
}

func NewHello(agentName string) HelloMsg {
	return HelloMsg{
		Type:              TypeHello,
		ProtocolVersion:   Version,
		SupportedVersions: append([]string(nil), supportedVersions...),
		AgentName:         agentName,
		Capabilities:      HelloCapabilities{DeltaVoxels: true, MaxQueue: 64},
	}
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
	CurrentWorldID  string      `json:"current_world_id,omitempty"`
}

type WorldParams struct {
	TickRateHz int    `json:"tick_rate_hz"`
	ObsRadius  int    `json:"obs_radius"`
	DayTicks   int    `json:"day_ticks"`
	Seed       int64  `json:"seed"`
	ChunkSize  [3]int `json:"chunk_size"`
}

// CATALOG (server -> client). Each catalog arrives as a single part.
type CatalogMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Name            string          `json:"name"`
	Digest          string          `json:"digest"`
	Part            int             `json:"part"`
	TotalParts      int             `json:"total_parts"`
	Data            json.RawMessage `json:"data"`
}

// Catalog names the agent consumes.
const (
	CatalogBlockPalette = "block_palette"
	CatalogRecipes      = "recipes"
)

// RecipeDef is one entry of the recipes catalog.
type RecipeDef struct {
	RecipeID string      `json:"recipe_id"`
	Outputs  []ItemStack `json:"outputs"`
}
