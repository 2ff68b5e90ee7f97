package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelagent.ai/internal/protocol"
)

func TestSchemas_ValidateOutgoing(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.Compile(filepath.Join("schemas", name))
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}
	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	hello := protocol.NewHello("AliceBot")
	hello.Auth = &protocol.HelloAuth{Mode: "offline", Token: "t"}
	validate(compile("hello.schema.json"), hello)

	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            12,
		AgentID:         "A1",
		Instants:        []protocol.InstantReq{{ID: "I1", Type: protocol.InstantEquip, ItemID: "iron_sword", Slot: "hand"}},
		Tasks:           []protocol.TaskReq{{ID: "K1", Type: protocol.TaskMoveTo, Target: [3]int{1, 64, 1}, Tolerance: 1}},
	}
	validate(compile("act.schema.json"), act)
}

func TestDecodeBase(t *testing.T) {
	b, err := protocol.DecodeBase([]byte(`{"type":"OBS","protocol_version":"0.9","tick":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Type != protocol.TypeObs || !protocol.IsSupportedVersion(b.ProtocolVersion) {
		t.Fatalf("unexpected base: %+v", b)
	}
	if protocol.IsSupportedVersion("0.1") {
		t.Fatalf("0.1 should be unsupported")
	}
}
