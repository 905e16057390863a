package domain

// QueryName identifies one of the fixed set of queries a client may issue
// over the query proxy protocol. The set is closed: an unrecognised name is
// answered with a typed error reply, never executed.
type QueryName string

const (
	QueryGetBoardCards         QueryName = "getBoardCards"
	QueryGetSelectedCards      QueryName = "getSelectedCards"
	QueryGetBoardInfo          QueryName = "getBoardInfo"
	QuerySetBoardName          QueryName = "setBoardName"
	QueryCreateCards           QueryName = "createCards"
	QueryAttachCardToSelection QueryName = "attachCardToSelection"
	QuerySetCardStatus         QueryName = "setCardStatus"
	QuerySelectCard            QueryName = "selectCard"
	QueryHoverCard             QueryName = "hoverCard"
	QueryTagCards              QueryName = "tagCards"
	QueryUntagCards            QueryName = "untagCards"
	QueryListTags              QueryName = "listTags"
)

var knownQueries = map[QueryName]struct{}{
	QueryGetBoardCards:         {},
	QueryGetSelectedCards:      {},
	QueryGetBoardInfo:          {},
	QuerySetBoardName:          {},
	QueryCreateCards:           {},
	QueryAttachCardToSelection: {},
	QuerySetCardStatus:         {},
	QuerySelectCard:            {},
	QueryHoverCard:             {},
	QueryTagCards:              {},
	QueryUntagCards:            {},
	QueryListTags:              {},
}

// Known reports whether q is part of the closed query vocabulary.
func (q QueryName) Known() bool {
	_, ok := knownQueries[q]
	return ok
}
