package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/plebmarket/mcpgate/internal/metrics"
	"github.com/plebmarket/mcpgate/internal/model"
	"github.com/plebmarket/mcpgate/internal/nostrauth"
	"github.com/plebmarket/mcpgate/internal/store"
)

// componentTypes are the Go types published under #/components/schemas.
// Schemas are reflected from their JSON tags, so fields tagged "-" (such as
// the key hash) never appear.
var componentTypes = []struct {
	Name  string
	Value interface{}
}{
	{"APIKey", model.APIKey{}},
	{"AuthEvent", nostrauth.Event{}},
	{"MetricsSnapshot", metrics.Snapshot{}},
	{"StoreCounts", store.Counts{}},
	{"MarketStats", model.MarketStats{}},
}

// addComponentSchemas reflects every component type into doc.
func addComponentSchemas(doc *openapi3.T) error {
	for _, c := range componentTypes {
		ref, err := openapi3gen.NewSchemaRefForValue(c.Value, doc.Components.Schemas)
		if err != nil {
			return fmt.Errorf("schema for %s: %w", c.Name, err)
		}
		doc.Components.Schemas[c.Name] = ref
	}
	return nil
}

// componentRef points at a registered component schema. The resolved value is
// attached so the document validates without a loader pass.
func componentRef(doc *openapi3.T, name string) *openapi3.SchemaRef {
	var value *openapi3.Schema
	if s, ok := doc.Components.Schemas[name]; ok {
		value = s.Value
	}
	return openapi3.NewSchemaRef("#/components/schemas/"+name, value)
}

// Scalar schema shorthands.

func stringSchema(description string) *openapi3.SchemaRef {
	s := openapi3.NewStringSchema()
	s.Description = description
	return &openapi3.SchemaRef{Value: s}
}

func enumSchema(description string, values ...interface{}) *openapi3.SchemaRef {
	s := openapi3.NewStringSchema().WithEnum(values...)
	s.Description = description
	return &openapi3.SchemaRef{Value: s}
}

func integerSchema(format, description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"integer"},
		Format:      format,
		Description: description,
	}}
}

func boolSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"boolean"},
		Description: description,
	}}
}

func dateTimeSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Format:      "date-time",
		Description: description,
	}}
}

func arraySchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

// objectSchema builds an object with the given properties; required lists
// the property names a client must send.
func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}
