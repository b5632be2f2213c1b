package backendgrpc

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sciexp/flytezen/schema"
)

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	normalized, err := normalizeMap(fields)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(normalized)
}

// normalizeMap reduces arbitrary Go values to the JSON shapes structpb accepts.
func normalizeMap(in map[string]any) (map[string]any, error) {
	if in == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return out, nil
}

func fieldString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func fieldBool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func fieldNumber(m map[string]any, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func fieldMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func entityToMap(ref schema.EntityRef) map[string]any {
	return map[string]any{
		"module": ref.Module,
		"name":   ref.Name,
		"type":   string(ref.Type),
	}
}

func entityFromMap(m map[string]any) schema.EntityRef {
	return schema.EntityRef{
		Module: fieldString(m, "module"),
		Name:   fieldString(m, "name"),
		Type:   schema.EntityType(fieldString(m, "type")),
	}
}

func handleToMap(h schema.ExecutionHandle) map[string]any {
	return map[string]any{
		"project": h.Project,
		"domain":  h.Domain,
		"name":    h.Name,
	}
}

func handleFromMap(m map[string]any) schema.ExecutionHandle {
	return schema.ExecutionHandle{
		Project: fieldString(m, "project"),
		Domain:  fieldString(m, "domain"),
		Name:    fieldString(m, "name"),
	}
}

func statusToMap(st schema.ExecutionStatus) map[string]any {
	out := map[string]any{
		"phase": string(st.Phase),
	}
	if st.Error != "" {
		out["error"] = st.Error
	}
	if !st.UpdatedAt.IsZero() {
		out["updated_at"] = st.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func statusFromMap(m map[string]any) (schema.ExecutionStatus, error) {
	phase, err := schema.ParsePhase(fieldString(m, "phase"))
	if err != nil {
		return schema.ExecutionStatus{}, err
	}
	st := schema.ExecutionStatus{Phase: phase, Error: fieldString(m, "error")}
	if raw := fieldString(m, "updated_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return schema.ExecutionStatus{}, fmt.Errorf("parse updated_at: %w", err)
		}
		st.UpdatedAt = ts
	}
	return st, nil
}

func settingsToMap(settings schema.RegistrationSettings) map[string]any {
	out := map[string]any{"image": settings.Image}
	if fp := settings.FastPackage; fp != nil {
		out["fast_package"] = map[string]any{
			"destination_dir":       fp.DestinationDir,
			"distribution_location": fp.DistributionLocation,
		}
	}
	return out
}

func settingsFromMap(m map[string]any) schema.RegistrationSettings {
	settings := schema.RegistrationSettings{Image: fieldString(m, "image")}
	if fp := fieldMap(m, "fast_package"); fp != nil {
		settings.FastPackage = &schema.FastPackageSettings{
			DestinationDir:       fieldString(fp, "destination_dir"),
			DistributionLocation: fieldString(fp, "distribution_location"),
		}
	}
	return settings
}

func locationToMap(loc schema.StagingLocation) map[string]any {
	return map[string]any{
		"bucket":     loc.Bucket,
		"key":        loc.Key,
		"native_url": loc.NativeURL,
	}
}

func locationFromMap(m map[string]any) schema.StagingLocation {
	return schema.StagingLocation{
		Bucket:    fieldString(m, "bucket"),
		Key:       fieldString(m, "key"),
		NativeURL: fieldString(m, "native_url"),
	}
}
