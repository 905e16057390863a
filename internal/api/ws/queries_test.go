package ws_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardpin/boardpin/internal/api/ws"
	"github.com/boardpin/boardpin/internal/domain"
	"github.com/boardpin/boardpin/internal/queryproxy"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

func newRouter(t *testing.T) (*ws.QueryRouter, *store.Store, *pubsub.PubSub) {
	t.Helper()

	st := store.New()
	bus := pubsub.New()
	t.Cleanup(func() { _ = bus.Close() })
	return ws.NewQueryRouter(st, bus), st, bus
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// ask dispatches one request and returns the replies it produced.
func ask(t *testing.T, router *ws.QueryRouter, req queryproxy.Request) []queryproxy.Response {
	t.Helper()

	var replies []queryproxy.Response
	router.Dispatch(context.Background(), req, func(_ context.Context, resp queryproxy.Response) error {
		replies = append(replies, resp)
		return nil
	})
	return replies
}

func card(boardID, link, title string) *domain.Card {
	return &domain.Card{
		BoardID: boardID,
		Type:    domain.CardTypeSymbol,
		Title:   title,
		Path:    "src/" + title + ".go",
		Link:    link,
		Symbol:  title,
		Status:  domain.CardStatusConnected,
	}
}

// ---------------------------------------------------------------------------
// Board scoping
// ---------------------------------------------------------------------------

func TestDispatch_ForeignBoardIgnored(t *testing.T) {
	t.Parallel()

	router, _, _ := newRouter(t)
	router.EnsureBoard("b1")

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "someone-elses-board",
		Query:     domain.QueryGetBoardCards,
	})
	assert.Empty(t, replies, "a request for a foreign board must produce no reply at all")
}

func TestDispatch_ExactlyOneReplyAcrossBoards(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	router.EnsureBoard("b1")
	router.EnsureBoard("b2")
	require.NoError(t, st.SetCard(card("b1", "link-1", "alpha")))
	require.NoError(t, st.SetCard(card("b2", "link-2", "beta")))

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryGetBoardCards,
	})
	require.Len(t, replies, 1)

	var cards []*domain.Card
	require.NoError(t, json.Unmarshal(replies[0].Response, &cards))
	require.Len(t, cards, 1)
	assert.Equal(t, "link-1", cards[0].Link)
}

// ---------------------------------------------------------------------------
// Card queries
// ---------------------------------------------------------------------------

func TestCreateCards_AssignsBoardAndAutoConnects(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	router.EnsureBoard("b1")

	existing := card("b1", "link-old", "old")
	existing.Status = domain.CardStatusDisconnected
	require.NoError(t, st.SetCard(existing))

	fresh := card("ignored-board-id", "link-new", "fresh")
	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryCreateCards,
		Args: mustArgs(t, ws.CreateCardsArgs{
			Cards:   []*domain.Card{fresh},
			Connect: []string{"link-old", "link-missing"},
		}),
	})
	require.Len(t, replies, 1)
	require.Empty(t, replies[0].Error)

	created, err := st.Card("link-new")
	require.NoError(t, err)
	assert.Equal(t, "b1", created.BoardID, "created cards always land on the responder's board")

	reconnected, err := st.Card("link-old")
	require.NoError(t, err)
	assert.Equal(t, domain.CardStatusConnected, reconnected.Status)
}

func TestSetCardStatus_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	router.EnsureBoard("b1")
	require.NoError(t, st.SetCard(card("b1", "link-1", "alpha")))

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QuerySetCardStatus,
		Args:      mustArgs(t, ws.CardStatusArgs{Link: "link-1", Status: "vanished"}),
	})
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Error, "unknown card status")
}

func TestSelectCard_SetsSelectionAndBroadcasts(t *testing.T) {
	t.Parallel()

	router, st, bus := newRouter(t)
	router.EnsureBoard("b1")
	require.NoError(t, st.SetCard(card("b1", "link-1", "alpha")))

	events, cleanup, err := bus.Subscribe(context.Background(), pubsub.BoardChannel("b1"))
	require.NoError(t, err)
	defer cleanup()

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QuerySelectCard,
		Args:      mustArgs(t, ws.LinkArgs{Link: "link-1"}),
	})
	require.Len(t, replies, 1)
	require.Empty(t, replies[0].Error)
	assert.Equal(t, []string{"link-1"}, router.Selection("b1"))

	select {
	case payload := <-events:
		var env ws.Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		assert.Equal(t, ws.EventSelectCard, env.Event)
	default:
		t.Fatal("expected a selectCard broadcast on the board channel")
	}
}

func TestSelectCard_WrongBoardIsError(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	router.EnsureBoard("b1")
	require.NoError(t, st.SetCard(card("b2", "link-2", "beta")))

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QuerySelectCard,
		Args:      mustArgs(t, ws.LinkArgs{Link: "link-2"}),
	})
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Error, domain.ErrBoardMismatch.Error())
}

func TestAttachCardToSelection_RewritesSelectedCard(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	router.EnsureBoard("b1")

	c := card("b1", "link-1", "alpha")
	c.Status = domain.CardStatusDisconnected
	require.NoError(t, st.SetCard(c))
	router.SetSelection("b1", []string{"link-1"})

	codeLink := "https://example.com/repo/blob/main/pkg/runner.go#L42"
	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryAttachCardToSelection,
		Args: mustArgs(t, ws.AttachArgs{
			Path:     "pkg/runner.go",
			Symbol:   "Runner.Start",
			CodeLink: &codeLink,
		}),
	})
	require.Len(t, replies, 1)
	require.Empty(t, replies[0].Error)

	got, err := st.Card("link-1")
	require.NoError(t, err)
	assert.Equal(t, "pkg/runner.go", got.Path)
	assert.Equal(t, "Runner.Start", got.Symbol)
	assert.Equal(t, domain.CardStatusConnected, got.Status)
	require.NotNil(t, got.CodeLink)
	assert.Equal(t, codeLink, *got.CodeLink)
}

func TestAttachCardToSelection_EmptySelectionIsError(t *testing.T) {
	t.Parallel()

	router, _, _ := newRouter(t)
	router.EnsureBoard("b1")

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryAttachCardToSelection,
		Args:      mustArgs(t, ws.AttachArgs{Path: "pkg/runner.go"}),
	})
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Error, "no card selected")
}

func TestGetSelectedCards_SkipsDeletedLinks(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	router.EnsureBoard("b1")
	require.NoError(t, st.SetCard(card("b1", "link-1", "alpha")))
	require.NoError(t, st.SetCard(card("b1", "link-2", "beta")))
	router.SetSelection("b1", []string{"link-1", "link-2"})
	require.NoError(t, st.DeleteCard("link-2"))

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryGetSelectedCards,
	})
	require.Len(t, replies, 1)

	var cards []*domain.Card
	require.NoError(t, json.Unmarshal(replies[0].Response, &cards))
	require.Len(t, cards, 1)
	assert.Equal(t, "link-1", cards[0].Link)
}

// ---------------------------------------------------------------------------
// Board metadata and tags
// ---------------------------------------------------------------------------

func TestSetBoardName_RequiresName(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	st.AddBoard("b1", "before")
	router.EnsureBoard("b1")

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QuerySetBoardName,
		Args:      mustArgs(t, ws.SetBoardNameArgs{}),
	})
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Error, "board name is required")

	replies = ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QuerySetBoardName,
		Args:      mustArgs(t, ws.SetBoardNameArgs{Name: "after"}),
	})
	require.Len(t, replies, 1)
	require.Empty(t, replies[0].Error)

	b, err := st.Board("b1")
	require.NoError(t, err)
	assert.Equal(t, "after", b.Name)
}

func TestTagQueries_RoundTrip(t *testing.T) {
	t.Parallel()

	router, st, _ := newRouter(t)
	router.EnsureBoard("b1")
	require.NoError(t, st.SetCard(card("b1", "link-1", "alpha")))
	require.NoError(t, st.SetCard(card("b1", "link-2", "beta")))

	replies := ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryTagCards,
		Args:      mustArgs(t, ws.TagArgs{Tag: "hotpath", Links: []string{"link-1", "link-2"}}),
	})
	require.Len(t, replies, 1)
	require.Empty(t, replies[0].Error)

	replies = ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryUntagCards,
		Args:      mustArgs(t, ws.TagArgs{Tag: "hotpath", Links: []string{"link-2"}}),
	})
	require.Len(t, replies, 1)
	require.Empty(t, replies[0].Error)

	replies = ask(t, router, queryproxy.Request{
		RequestID: uuid.NewString(),
		BoardID:   "b1",
		Query:     domain.QueryListTags,
	})
	require.Len(t, replies, 1)

	var tags []string
	require.NoError(t, json.Unmarshal(replies[0].Response, &tags))
	assert.Equal(t, []string{"hotpath"}, tags)

	remaining, err := st.Card("link-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hotpath"}, remaining.Tags)
}
