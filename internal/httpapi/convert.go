package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// ── Location ─────────────────────────────────────────────────────────────────

// locationUpdateFromStruct reads a google.protobuf.Struct body through its
// JSON form, so protobuf and JSON clients share one schema and validation.
func locationUpdateFromStruct(st *structpb.Struct) (types.LocationUpdate, error) {
	raw, err := protojson.Marshal(st)
	if err != nil {
		return types.LocationUpdate{}, fmt.Errorf("struct to json: %w", err)
	}

	var upd types.LocationUpdate
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&upd); err != nil {
		return types.LocationUpdate{}, err
	}
	return upd, nil
}

// ── Device ───────────────────────────────────────────────────────────────────

func deviceToStruct(rec types.DeviceRecord) (*structpb.Struct, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("json to struct: %w", err)
	}
	return st, nil
}
