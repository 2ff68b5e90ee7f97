// Package protocol holds the wire messages exchanged with a voxel world server
// over websocket (agent side).
package protocol

import "encoding/json"

const Version = "0.9"

var supportedVersions = []string{"0.9", "1.0"}

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCatalog = "CATALOG"
	TypeObs     = "OBS"
	TypeAct     = "ACT"
)

// Event types carried inside OBS.events.
const (
	EventActionResult = "ACTION_RESULT"
	EventTaskDone     = "TASK_DONE"
	EventTaskFail     = "TASK_FAIL"
	EventDamage       = "DAMAGE"
	EventChat         = "CHAT"
)

// Task and instant types the agent issues. EQUIP, ATTACK and SET_POLICY, like
// the DAMAGE and CHAT events, belong to the survival extension of the protocol;
// a base world server rejects them with E_BAD_REQUEST.
const (
	TaskMoveTo = "MOVE_TO"
	TaskFollow = "FOLLOW"
	TaskMine   = "MINE"
	TaskPlace  = "PLACE"
	TaskCraft  = "CRAFT"

	InstantSay    = "SAY"
	InstantEquip  = "EQUIP"
	InstantEat    = "EAT"
	InstantAttack = "ATTACK"
	InstantPolicy = "SET_POLICY"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	for _, s := range supportedVersions {
		if v == s {
			return true
		}
	}
	return false
}
