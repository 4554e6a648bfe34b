// Package envelope unwraps the response envelopes returned by the dashboard API.
//
// Endpoints answer with a bare value, {"data": value}, or {"data": {"data": value}}
// depending on the endpoint and backend version. Stores call these functions
// instead of inspecting the shape themselves. Neither function fails: an
// unrecognized list shape yields an empty list and an unrecognized record
// shape yields the value unchanged.
package envelope

import "github.com/programshouse/medicaldash/pkg/models"

// ExtractRecord returns json["data"] when present and non-null, else json.
func ExtractRecord(json any) any {
	if m, ok := models.AsRecord(json); ok {
		if inner, ok := m["data"]; ok && inner != nil {
			return inner
		}
	}
	return json
}

// ExtractList returns the first sequence found at json, json.data or json.data.data.
func ExtractList(json any) []any {
	if list, ok := json.([]any); ok {
		return list
	}
	outer, ok := models.AsRecord(json)
	if !ok {
		return []any{}
	}
	if list, ok := outer["data"].([]any); ok {
		return list
	}
	inner, ok := models.AsRecord(outer["data"])
	if !ok {
		return []any{}
	}
	if list, ok := inner["data"].([]any); ok {
		return list
	}
	return []any{}
}

// Record extracts a single record. ok is false when the payload is not an object.
func Record(json any) (models.Record, bool) {
	return models.AsRecord(ExtractRecord(json))
}

// Records extracts a list and keeps only its object entries.
func Records(json any) []models.Record {
	list := ExtractList(json)
	out := make([]models.Record, 0, len(list))
	for _, item := range list {
		if rec, ok := models.AsRecord(item); ok {
			out = append(out, rec)
		}
	}
	return out
}
