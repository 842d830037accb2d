package provider

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/cubicler/cubicler/pkg/config"
)

// loadOpenAPIEndpoints imports a server's endpoints from an OpenAPI document.
// Operations without an operationId are skipped; there is no stable name to
// derive a tool from.
func (s *RestService) loadOpenAPIEndpoints(ctx context.Context, source string) ([]config.RestEndpoint, error) {
	doc, err := loadOpenAPIDoc(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validating spec: %w", err)
	}

	var endpoints []config.RestEndpoint
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				s.logger.Debug("skipping operation without operationId", "method", method, "path", path)
				continue
			}
			endpoints = append(endpoints, operationToEndpoint(method, path, op))
		}
	}
	return endpoints, nil
}

func loadOpenAPIDoc(ctx context.Context, source string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	loader.Context = ctx

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		u, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("parsing spec URL: %w", err)
		}
		return loader.LoadFromURI(u)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("reading spec file: %w", err)
	}
	return loader.LoadFromData(data)
}

// operationToEndpoint converts one OpenAPI operation into an endpoint
// definition. Query parameters become the nested query schema, the JSON
// request body becomes the payload schema, and path parameters keep their
// declared schemas.
func operationToEndpoint(method, path string, op *openapi3.Operation) config.RestEndpoint {
	ep := config.RestEndpoint{
		Name:        op.OperationID,
		Description: operationDescription(op),
		Method:      method,
		Path:        path,
	}

	queryProps := make(map[string]config.SchemaObject)
	var queryRequired []string
	for _, paramRef := range op.Parameters {
		if paramRef == nil || paramRef.Value == nil {
			continue
		}
		param := paramRef.Value
		switch param.In {
		case "query":
			queryProps[param.Name] = parameterSchema(param)
			if param.Required {
				queryRequired = append(queryRequired, param.Name)
			}
		case "path":
			if ep.PathParams == nil {
				ep.PathParams = make(map[string]config.SchemaObject)
			}
			ep.PathParams[param.Name] = parameterSchema(param)
		}
	}
	if len(queryProps) > 0 {
		ep.Query = &config.SchemaObject{
			Type:       "object",
			Properties: queryProps,
			Required:   queryRequired,
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if content, ok := op.RequestBody.Value.Content["application/json"]; ok && content.Schema != nil {
			payload := schemaObject(content.Schema)
			ep.Payload = &payload
		}
	}

	return ep
}

func operationDescription(op *openapi3.Operation) string {
	description := op.Summary
	if op.Description != "" {
		if description != "" {
			description += ": " + op.Description
		} else {
			description = op.Description
		}
	}
	return description
}

func parameterSchema(param *openapi3.Parameter) config.SchemaObject {
	if param.Schema == nil || param.Schema.Value == nil {
		// Untyped parameters default to string.
		return config.SchemaObject{Type: "string", Description: param.Description}
	}
	obj := schemaObject(param.Schema)
	if obj.Description == "" {
		obj.Description = param.Description
	}
	return obj
}

// schemaObject converts an OpenAPI schema to the config schema shape.
func schemaObject(ref *openapi3.SchemaRef) config.SchemaObject {
	if ref == nil || ref.Value == nil {
		return config.SchemaObject{Type: "object"}
	}
	schema := ref.Value

	obj := config.SchemaObject{
		Description: schema.Description,
		Required:    schema.Required,
		Enum:        schema.Enum,
	}
	if schema.Type != nil && len(*schema.Type) > 0 {
		obj.Type = (*schema.Type)[0]
	}
	if len(schema.Properties) > 0 {
		obj.Properties = make(map[string]config.SchemaObject, len(schema.Properties))
		for name, propRef := range schema.Properties {
			obj.Properties[name] = schemaObject(propRef)
		}
	}
	if schema.Items != nil {
		items := schemaObject(schema.Items)
		obj.Items = &items
	}
	return obj
}
