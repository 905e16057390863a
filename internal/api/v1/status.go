package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/boardpin/boardpin/internal/domain"
)

type GetStatusOutput struct {
	Body domain.StatusSnapshot
}

type ListWorkspacesOutput struct {
	Body []*domain.Workspace
}

func RegisterStatusRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Get the board and workspace status snapshot",
		Tags:        []string{"Status"},
	}, func(_ context.Context, _ *struct{}) (*GetStatusOutput, error) {
		return &GetStatusOutput{Body: store.Snapshot()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workspaces",
		Method:      http.MethodGet,
		Path:        "/workspaces",
		Summary:     "List registered editor workspaces",
		Tags:        []string{"Status"},
	}, func(_ context.Context, _ *struct{}) (*ListWorkspacesOutput, error) {
		return &ListWorkspacesOutput{Body: store.Workspaces()}, nil
	})
}
