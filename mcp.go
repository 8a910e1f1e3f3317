package couponclip

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/couponclip/kit"
	"github.com/hazyhaar/couponclip/model"
)

var errNoUser = errors.New("user_id is required")

// RegisterMCP registers the couponclip tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerDiscoverTool(srv)
	e.registerAddStoreTool(srv)
	e.registerListStoresTool(srv)
	e.registerClipStoreTool(srv)
	e.registerRemoveStoreTool(srv)
	e.registerCleanupTool(srv)
}

func (e *Engine) mcpEndpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(
		kit.Recover(e.config.Logger),
		kit.Logging(e.config.Logger, name),
	)(ep)
}

var credentialProps = map[string]any{
	"email_or_username": map[string]any{"type": "string", "description": "Account identifier used on the store's sign-in form"},
	"password":          map[string]any{"type": "string", "description": "Account password; used for this call only and never stored"},
}

func withCredentialProps(props map[string]any) map[string]any {
	for k, v := range credentialProps {
		props[k] = v
	}
	return props
}

// decodeUserArgs unmarshals the tool arguments into dst and binds the
// user_id argument to the call context.
func decodeUserArgs(req *mcp.CallToolRequest, dst any) (*kit.MCPDecodeResult, error) {
	var who struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &who); err != nil {
		return nil, err
	}
	if who.UserID <= 0 {
		return nil, errNoUser
	}
	if err := json.Unmarshal(req.Params.Arguments, dst); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{
		Request:   dst,
		EnrichCtx: func(ctx context.Context) context.Context { return kit.WithUserID(ctx, who.UserID) },
	}, nil
}

// --- discover_store ---

type discoverRequest struct {
	URL string `json:"url"`
	model.Credentials
}

func (e *Engine) registerDiscoverTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "couponclip_discover_store",
		Description: "Visit a retailer URL and infer its store name, base URL and login URL. Nothing is saved.",
		InputSchema: kit.InputSchema(withCredentialProps(map[string]any{
			"url": map[string]any{"type": "string", "description": "Any page of the retailer site"},
		}), "url"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*discoverRequest)
		return e.Discover(ctx, rr.URL, rr.Credentials)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr discoverRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}
	kit.RegisterMCPTool(srv, tool, e.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- add_store ---

type addStoreRequest struct {
	URL string `json:"url"`
	model.Credentials
}

func (e *Engine) registerAddStoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "couponclip_add_store",
		Description: "Discover a retailer, verify the credentials by signing in, and add it to the user's stores.",
		InputSchema: kit.InputSchema(withCredentialProps(map[string]any{
			"user_id": map[string]any{"type": "integer", "description": "Owner of the store list"},
			"url":     map[string]any{"type": "string", "description": "Any page of the retailer site"},
		}), "user_id", "url", "email_or_username", "password"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*addStoreRequest)
		return e.AddStore(ctx, kit.UserID(ctx), rr.URL, rr.Credentials)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeUserArgs(req, &addStoreRequest{})
	}
	kit.RegisterMCPTool(srv, tool, e.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- list_stores ---

type listStoresRequest struct{}

func (e *Engine) registerListStoresTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "couponclip_list_stores",
		Description: "List the stores a user has added.",
		InputSchema: kit.InputSchema(map[string]any{
			"user_id": map[string]any{"type": "integer"},
		}, "user_id"),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return e.ListStores(ctx, kit.UserID(ctx))
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeUserArgs(req, &listStoresRequest{})
	}
	kit.RegisterMCPTool(srv, tool, e.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- clip_store ---

type clipStoreRequest struct {
	StoreID int64 `json:"store_id"`
	model.Credentials
}

func (e *Engine) registerClipStoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "couponclip_clip_store",
		Description: "Clip every available digital coupon of one of the user's stores. Credentials are only needed when the cached session has expired.",
		InputSchema: kit.InputSchema(withCredentialProps(map[string]any{
			"user_id":  map[string]any{"type": "integer"},
			"store_id": map[string]any{"type": "integer"},
		}), "user_id", "store_id"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*clipStoreRequest)
		var creds *model.Credentials
		if rr.Credentials.Valid() {
			creds = &rr.Credentials
		}
		return e.ClipStore(ctx, kit.UserID(ctx), rr.StoreID, creds)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeUserArgs(req, &clipStoreRequest{})
	}
	kit.RegisterMCPTool(srv, tool, e.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- remove_store ---

type removeStoreRequest struct {
	StoreID int64 `json:"store_id"`
}

type removeStoreResponse struct {
	Removed bool `json:"removed"`
}

func (e *Engine) registerRemoveStoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "couponclip_remove_store",
		Description: "Remove a store from the user's list and drop its cached session.",
		InputSchema: kit.InputSchema(map[string]any{
			"user_id":  map[string]any{"type": "integer"},
			"store_id": map[string]any{"type": "integer"},
		}, "user_id", "store_id"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*removeStoreRequest)
		if err := e.RemoveStore(ctx, kit.UserID(ctx), rr.StoreID); err != nil {
			return nil, err
		}
		return removeStoreResponse{Removed: true}, nil
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeUserArgs(req, &removeStoreRequest{})
	}
	kit.RegisterMCPTool(srv, tool, e.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- cleanup_sessions ---

type cleanupRequest struct {
	MaxAgeDays int `json:"max_age_days"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

func (e *Engine) registerCleanupTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "couponclip_cleanup_sessions",
		Description: "Delete cached sessions older than max_age_days (default: the cache TTL).",
		InputSchema: kit.InputSchema(map[string]any{
			"max_age_days": map[string]any{"type": "integer"},
		}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*cleanupRequest)
		n, err := e.CleanupExpiredSessions(rr.MaxAgeDays)
		if err != nil {
			return nil, err
		}
		return cleanupResponse{Removed: n}, nil
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr cleanupRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}
	kit.RegisterMCPTool(srv, tool, e.mcpEndpoint(tool.Name, endpoint), decode)
}
