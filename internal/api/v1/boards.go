package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/boardpin/boardpin/internal/domain"
)

type ListBoardsInput struct {
	Connected bool `query:"connected" doc:"Only boards that currently hold cards"`
}

type ListBoardsOutput struct {
	Body []*domain.Board
}

type GetBoardInput struct {
	BoardID string `path:"boardID" doc:"Board ID"`
}

type GetBoardOutput struct {
	Body *domain.Board
}

type ListBoardCardsInput struct {
	BoardID string `path:"boardID" doc:"Board ID"`
}

type ListBoardCardsOutput struct {
	Body []*domain.Card
}

type ListBoardTagsInput struct {
	BoardID string `path:"boardID" doc:"Board ID"`
}

type ListBoardTagsOutput struct {
	Body []string
}

type GetCardInput struct {
	Link string `query:"miroLink" required:"true" doc:"Card link"`
}

type GetCardOutput struct {
	Body *domain.Card
}

func RegisterBoardRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List known boards",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *ListBoardsInput) (*ListBoardsOutput, error) {
		if input.Connected {
			return &ListBoardsOutput{Body: store.ConnectedBoards()}, nil
		}
		return &ListBoardsOutput{Body: store.Boards()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{boardID}",
		Summary:     "Get one board",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *GetBoardInput) (*GetBoardOutput, error) {
		board, err := store.Board(input.BoardID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("board not found")
			}
			return nil, huma.Error500InternalServerError("failed to load board", err)
		}
		return &GetBoardOutput{Body: board}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-board-cards",
		Method:      http.MethodGet,
		Path:        "/boards/{boardID}/cards",
		Summary:     "List the cards on a board",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *ListBoardCardsInput) (*ListBoardCardsOutput, error) {
		if _, err := store.Board(input.BoardID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("board not found")
			}
			return nil, huma.Error500InternalServerError("failed to load board", err)
		}
		return &ListBoardCardsOutput{Body: store.BoardCards(input.BoardID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-board-tags",
		Method:      http.MethodGet,
		Path:        "/boards/{boardID}/tags",
		Summary:     "List the tags in use on a board",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *ListBoardTagsInput) (*ListBoardTagsOutput, error) {
		return &ListBoardTagsOutput{Body: store.Tags(input.BoardID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-card",
		Method:      http.MethodGet,
		Path:        "/cards",
		Summary:     "Get one card by its link",
		Tags:        []string{"Boards"},
	}, func(_ context.Context, input *GetCardInput) (*GetCardOutput, error) {
		card, err := store.Card(input.Link)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("card not found")
			}
			return nil, huma.Error500InternalServerError("failed to load card", err)
		}
		return &GetCardOutput{Body: card}, nil
	})
}
