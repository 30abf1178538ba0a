package services

import (
	"encoding/json"
	"fmt"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// Flatten walks the entity tree depth-first, parents before children, and
// records type -> value for every node that has both. When a type repeats,
// the node visited last wins. Children are always visited, so a parent with
// no value of its own still contributes its properties.
func Flatten(entities []models.Entity) models.FieldMap {
	fields := make(models.FieldMap)
	flattenInto(fields, entities)
	return fields
}

func flattenInto(fields models.FieldMap, entities []models.Entity) {
	for _, e := range entities {
		if e.Type != "" && e.MentionText != nil {
			fields[e.Type] = *e.MentionText
		}
		if len(e.Properties) > 0 {
			flattenInto(fields, e.Properties)
		}
	}
}

// FlattenResponse decodes a process response body and flattens its entities.
// A body without document.entities yields an empty map; only undecodable JSON is an error.
func FlattenResponse(body []byte) (models.FieldMap, error) {
	var resp models.ProcessResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode process response: %w", err)
	}
	if resp.Document == nil || len(resp.Document.Entities) == 0 {
		return models.FieldMap{}, nil
	}
	return Flatten(resp.Document.Entities), nil
}
