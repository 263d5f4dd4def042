package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/plebmarket/mcpgate/internal/nostrauth"
)

const (
	accountURI       = "mcpgate://account"
	productURIPrefix = "mcpgate://products/"
	productURITmpl   = productURIPrefix + "{product_id}"
	resourceMIMEType = "application/json"
)

// registerResources adds read-only resources clients can load into context.
func registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			accountURI,
			"API Key Account",
			mcp.WithResourceDescription("The API key behind this session: owner pubkey, npub and permissions."),
			mcp.WithMIMEType(resourceMIMEType),
		),
		handleAccountResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			productURITmpl,
			"Cached Product",
			mcp.WithTemplateDescription(
				"Last snapshot of a product the gateway fetched from the marketplace. "+
					"Use get_product for live data.",
			),
			mcp.WithTemplateMIMEType(resourceMIMEType),
		),
		handleProductResource,
	)
}

func handleAccountResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return nil, errors.New("no session context")
	}
	npub, _ := nostrauth.EncodeNpub(sc.APIKey.Pubkey)
	return jsonResource(accountURI, accountInfo(sc, npub))
}

func handleProductResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sc := SessionContextFrom(ctx)
	if sc == nil {
		return nil, errors.New("no session context")
	}
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, productURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid product URI %q: expected %s", uri, productURITmpl)
	}

	cp, err := sc.Store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("product %q: %w", id, err)
	}
	return jsonResource(uri, cp)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEType,
			Text:     string(b),
		},
	}, nil
}
