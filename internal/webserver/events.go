package webserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Craftycody123/vision-safe-nav/internal/state"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

// statusEvent is one status update serialized in both wire formats.
type statusEvent struct {
	JSONData     []byte
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

type statusPayload struct {
	Running  bool        `json:"running"`
	Warnings warning.Set `json:"warnings"`
}

func newStatusEvent(snap state.Snapshot) (*statusEvent, error) {
	ws := snap.Warnings
	if ws == nil {
		ws = warning.Set{}
	}
	jsonData, err := json.Marshal(statusPayload{Running: snap.Running, Warnings: ws})
	if err != nil {
		return nil, fmt.Errorf("marshal status json: %w", err)
	}

	st, err := statusStruct(snap.Running, ws)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal status protobuf: %w", err)
	}

	return &statusEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func statusStruct(running bool, ws warning.Set) (*structpb.Struct, error) {
	items := make([]any, 0, len(ws))
	for _, w := range ws {
		items = append(items, map[string]any{
			"object":    w.Object,
			"direction": string(w.Direction),
			"priority":  float64(w.Priority),
		})
	}
	st, err := structpb.NewStruct(map[string]any{
		"running":  running,
		"warnings": items,
	})
	if err != nil {
		return nil, fmt.Errorf("build status struct: %w", err)
	}
	return st, nil
}

func (e *statusEvent) sameAs(other *statusEvent) bool {
	return bytes.Equal(e.JSONData, other.JSONData)
}
