package openapi

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/plebmarket/mcpgate/internal/nostrauth"
)

// Generate builds the OpenAPI description of the REST surface served at
// baseURL. The MCP endpoint is listed for discoverability; its payloads are
// JSON-RPC messages defined by the Model Context Protocol.
func Generate(baseURL, version string) (*openapi3.T, error) {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title: "mcpgate API",
			Description: "API key management, agent onboarding and status for the mcpgate " +
				"Model Context Protocol gateway. Privileged key operations accept a signed " +
				"Nostr auth event (kind 27235).",
			Version: version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "mcp_<64 hex>",
			Description:  "API key issued by POST /api/v1/keys or POST /api/v1/onboard.",
		},
	}
	doc.Components.SecuritySchemes["nostrAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        "X-Nostr-Auth",
			Description: "Signed kind 27235 auth event as raw or base64 encoded JSON.",
		},
	}

	// Add shared error response schema
	doc.Components.Schemas["ErrorResponse"] = objectSchema(openapi3.Schemas{
		"error": objectSchema(openapi3.Schemas{
			"code":    integerSchema("int32", "HTTP status code."),
			"message": stringSchema("Human readable message."),
			"context": {Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
		}),
	})
	doc.Components.Schemas["RPCError"] = objectSchema(openapi3.Schemas{
		"jsonrpc": enumSchema("", "2.0"),
		"error": objectSchema(openapi3.Schemas{
			"code":    integerSchema("int32", "-32001 unauthorized, -32000 session error, -32603 internal error."),
			"message": stringSchema(""),
		}),
		"id": {Value: &openapi3.Schema{Nullable: true}},
	})

	if err := addComponentSchemas(doc); err != nil {
		return nil, err
	}

	doc.Paths = openapi3.NewPaths()
	addKeyPaths(doc)
	addOnboardPath(doc)
	addStatusPaths(doc)
	addMCPPath(doc)

	return doc, nil
}

// ─── Key management ─────────────────────────────────────────────────────────

func addKeyPaths(doc *openapi3.T) {
	eventProp := componentRef(doc, "AuthEvent")
	permissions := enumSchema("Permission tier. Defaults to read.", "read", "read_write")

	keys := &openapi3.PathItem{}
	keys.Post = &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Create an API key",
		Description: "Issues a key for pubkey. The plaintext key is returned once and never again.",
		OperationID: "createKey",
		RequestBody: jsonBody("Key to create", objectSchema(openapi3.Schemas{
			"name":        stringSchema("Label for the key, at most 100 characters."),
			"pubkey":      stringSchema("Owner pubkey as 64 hex characters or npub."),
			"permissions": permissions,
			"signedEvent": eventProp,
		}, "name", "pubkey")),
		Responses: newResponses(http.StatusCreated, "Created key with its one-time plaintext", objectSchema(openapi3.Schemas{
			"apiKey":      stringSchema("Plaintext key, shown once."),
			"id":          integerSchema("int64", ""),
			"keyPrefix":   stringSchema(""),
			"name":        stringSchema(""),
			"pubkey":      stringSchema(""),
			"permissions": permissions,
			"createdAt":   dateTimeSchema(""),
			"warning":     stringSchema(""),
		})),
	}
	keys.Get = &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "List API keys for a pubkey",
		Description: "Returns active and revoked keys. Key hashes are never returned.",
		OperationID: "listKeys",
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: openapi3.NewQueryParameter("pubkey").
					WithDescription("Owner pubkey as hex or npub.").
					WithRequired(true).
					WithSchema(openapi3.NewStringSchema()),
			},
		},
		Security: &openapi3.SecurityRequirements{{"nostrAuth": {}}, {}},
		Responses: newResponses(http.StatusOK, "Keys owned by pubkey", objectSchema(openapi3.Schemas{
			"keys":  arraySchema(componentRef(doc, "APIKey")),
			"count": integerSchema("int32", ""),
		})),
	}
	doc.Paths.Set("/api/v1/keys", keys)

	doc.Paths.Set("/api/v1/keys/revoke", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke an API key",
			Description: "Deactivates key id when it belongs to pubkey. Revocation cannot be undone.",
			OperationID: "revokeKey",
			RequestBody: jsonBody("Key to revoke", objectSchema(openapi3.Schemas{
				"id":          integerSchema("int64", ""),
				"pubkey":      stringSchema("Owner pubkey as hex or npub."),
				"signedEvent": eventProp,
			}, "id", "pubkey")),
			Responses: newResponses(http.StatusOK, "Key revoked", objectSchema(openapi3.Schemas{
				"success": boolSchema(""),
				"message": stringSchema(""),
			})),
		},
	})

	doc.Paths.Set("/api/v1/keys/me", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Describe the calling API key",
			OperationID: "whoami",
			Security:    &openapi3.SecurityRequirements{{"bearerAuth": {}}},
			Responses: newResponses(http.StatusOK, "The authenticated key", objectSchema(openapi3.Schemas{
				"id":          integerSchema("int64", ""),
				"name":        stringSchema(""),
				"keyPrefix":   stringSchema(""),
				"pubkey":      stringSchema(""),
				"npub":        stringSchema(""),
				"permissions": permissions,
				"canWrite":    boolSchema(""),
				"createdAt":   dateTimeSchema(""),
				"lastUsedAt":  dateTimeSchema(""),
			})),
		},
	})

	doc.Paths.Set("/api/v1/auth/template", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Get an unsigned auth event",
			Description: "Returns a kind 27235 event draft. Sign it and send it back within the freshness window.",
			OperationID: "authTemplate",
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("pubkey").
						WithDescription("Signer pubkey as hex or npub.").
						WithRequired(true).
						WithSchema(openapi3.NewStringSchema()),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("action").
						WithDescription("Value of the action tag. Defaults to " + nostrauth.DefaultAction + ".").
						WithSchema(openapi3.NewStringSchema()),
				},
			},
			Responses: newResponses(http.StatusOK, "Unsigned auth event", objectSchema(openapi3.Schemas{
				"event":         componentRef(doc, "AuthEvent"),
				"expiresInSecs": integerSchema("int32", "Freshness window in seconds."),
			})),
		},
	})
}

// ─── Onboarding ─────────────────────────────────────────────────────────────

func addOnboardPath(doc *openapi3.T) {
	body := jsonBody("Optional existing identity", objectSchema(openapi3.Schemas{
		"name":        stringSchema("Label for the key."),
		"pubkey":      stringSchema("Existing pubkey as hex or npub. Omit to generate a keypair."),
		"permissions": enumSchema("Defaults to read_write.", "read", "read_write"),
	}))
	body.Value.Required = false

	ops := newResponses(http.StatusCreated, "Issued key and endpoint", objectSchema(openapi3.Schemas{
		"apiKey":      stringSchema("Plaintext key, shown once."),
		"keyId":       integerSchema("int64", ""),
		"keyPrefix":   stringSchema(""),
		"permissions": stringSchema(""),
		"pubkey":      stringSchema(""),
		"npub":        stringSchema(""),
		"privateKey":  stringSchema("Only present when the keypair was generated."),
		"nsec":        stringSchema("Only present when the keypair was generated."),
		"mcpEndpoint": stringSchema("URL of the MCP gateway."),
		"warning":     stringSchema(""),
	}))
	addErrorResponse(doc, ops, http.StatusTooManyRequests, "Onboarding rate limit exceeded")

	doc.Paths.Set("/api/v1/onboard", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"onboarding"},
			Summary:     "Self-service agent onboarding",
			Description: "Issues an API key for a supplied or freshly generated identity. Limited per client IP.",
			OperationID: "onboard",
			RequestBody: body,
			Responses:   ops,
		},
	})
}

// ─── Status and probes ──────────────────────────────────────────────────────

func addStatusPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/status", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"status"},
			Summary:     "Gateway metrics and counts",
			Description: "Cacheable for 30 seconds.",
			OperationID: "status",
			Responses: newResponses(http.StatusOK, "Status report", objectSchema(openapi3.Schemas{
				"status":         enumSchema("", "ok", "degraded"),
				"version":        stringSchema(""),
				"metrics":        componentRef(doc, "MetricsSnapshot"),
				"activeSessions": integerSchema("int32", ""),
				"counts":         componentRef(doc, "StoreCounts"),
				"marketplace":    componentRef(doc, "MarketStats"),
				"warnings":       arraySchema(stringSchema("")),
				"generatedAt":    dateTimeSchema(""),
			})),
		},
	})

	probe := objectSchema(openapi3.Schemas{
		"status": stringSchema(""),
		"checks": {Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
	})
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags: []string{"status"}, Summary: "Liveness probe", OperationID: "healthz",
			Responses: newResponses(http.StatusOK, "Process is up", probe),
		},
	})
	readyz := newResponses(http.StatusOK, "Database reachable", probe)
	addErrorResponse(doc, readyz, http.StatusServiceUnavailable, "Database unreachable")
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags: []string{"status"}, Summary: "Readiness probe", OperationID: "readyz",
			Responses: readyz,
		},
	})
}

// ─── MCP endpoint ───────────────────────────────────────────────────────────

func addMCPPath(doc *openapi3.T) {
	sessionHeader := &openapi3.ParameterRef{
		Value: openapi3.NewHeaderParameter("Mcp-Session-Id").
			WithDescription("Session id returned by initialize. Required on every request after it.").
			WithSchema(openapi3.NewStringSchema()),
	}
	rpcErrors := func(success string) *openapi3.Responses {
		responses := openapi3.NewResponses()
		desc := success
		responses.Set("200", &openapi3.ResponseRef{Value: &openapi3.Response{Description: &desc}})
		for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
			d := http.StatusText(code)
			responses.Set(statusKey(code), &openapi3.ResponseRef{Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(componentRef(doc, "RPCError")),
			}})
		}
		return responses
	}
	security := &openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Paths.Set("/mcp", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"mcp"},
			Summary:     "Send a JSON-RPC message",
			Description: "initialize without a session header opens a session; other messages need Mcp-Session-Id.",
			OperationID: "mcpPost",
			Parameters:  openapi3.Parameters{sessionHeader},
			Security:    security,
			Responses:   rpcErrors("JSON-RPC response or event stream"),
		},
		Get: &openapi3.Operation{
			Tags:        []string{"mcp"},
			Summary:     "Open the server-to-client event stream",
			OperationID: "mcpStream",
			Parameters:  openapi3.Parameters{sessionHeader},
			Security:    security,
			Responses:   rpcErrors("text/event-stream"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"mcp"},
			Summary:     "Close a session",
			OperationID: "mcpDelete",
			Parameters:  openapi3.Parameters{sessionHeader},
			Security:    security,
			Responses:   rpcErrors("Session closed"),
		},
	})
}

// ─── Response Helpers ───────────────────────────────────────────────────────

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

// newResponses builds a Responses map with a success response and standard error responses.
func newResponses(status int, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusKey(status), &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		desc := http.StatusText(code)
		responses.Set(statusKey(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

func addErrorResponse(doc *openapi3.T, responses *openapi3.Responses, status int, description string) {
	desc := description
	responses.Set(statusKey(status), &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(componentRef(doc, "ErrorResponse")),
		},
	})
}

func statusKey(code int) string {
	return strconv.Itoa(code)
}
