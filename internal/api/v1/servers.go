// Package v1 exposes the management API for inspecting bridge instances.
package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/mcpbridge/internal/bridge"
)

// StatusProvider reports bridge instance snapshots. *bridge.Registry
// implements it.
type StatusProvider interface {
	List() []bridge.Status
	Status(name string) (bridge.Status, bool)
}

type ListServersOutput struct {
	Body []bridge.Status
}

type GetServerInput struct {
	Name string `path:"name" minLength:"1" maxLength:"100" doc:"Configured server name"`
}

type GetServerOutput struct {
	Body bridge.Status
}

func RegisterServerRoutes(api huma.API, bridges StatusProvider) {
	huma.Register(api, huma.Operation{
		OperationID: "list-servers",
		Method:      http.MethodGet,
		Path:        "/servers",
		Summary:     "List configured MCP servers and their bridge state",
		Tags:        []string{"Servers"},
	}, func(_ context.Context, _ *struct{}) (*ListServersOutput, error) {
		return &ListServersOutput{Body: bridges.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-server",
		Method:      http.MethodGet,
		Path:        "/servers/{name}",
		Summary:     "Get one MCP server's bridge state",
		Tags:        []string{"Servers"},
	}, func(_ context.Context, input *GetServerInput) (*GetServerOutput, error) {
		status, ok := bridges.Status(input.Name)
		if !ok {
			return nil, huma.Error404NotFound("server not found: " + input.Name)
		}
		return &GetServerOutput{Body: status}, nil
	})
}
