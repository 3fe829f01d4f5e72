package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBusy            = "E_BUSY"

	// Command layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrOutOfBounds  = "E_OUT_OF_BOUNDS"
	ErrUnknownTile  = "E_UNKNOWN_TILE"
	ErrNotBuildable = "E_NOT_BUILDABLE"
	ErrNoFunds      = "E_NO_FUNDS"
	ErrBlocked      = "E_BLOCKED"
	ErrCityHall     = "E_CITY_HALL"
	ErrSameType     = "E_SAME_TYPE"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrOutOfBounds:     {},
	ErrUnknownTile:     {},
	ErrNotBuildable:    {},
	ErrNoFunds:         {},
	ErrBlocked:         {},
	ErrCityHall:        {},
	ErrSameType:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
