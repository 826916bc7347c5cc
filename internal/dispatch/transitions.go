package dispatch

// trackOrder ranks the active-response states; Advance only ever moves forward along it.
var trackOrder = map[SuggestionStatus]int{
	StatusDispatched: 1,
	StatusEnRoute:    2,
	StatusArrived:    3,
	StatusCompleted:  4,
}

var nextTrackStatus = map[SuggestionStatus]SuggestionStatus{
	StatusDispatched: StatusEnRoute,
	StatusEnRoute:    StatusArrived,
	StatusArrived:    StatusCompleted,
}

// ValidAdvance reports whether a tracked dispatch may move from one state to another.
// Strict mode only allows the immediate successor; otherwise any forward jump is allowed.
func ValidAdvance(from, to SuggestionStatus, strict bool) bool {
	if !from.Active() {
		return false
	}
	toRank, ok := trackOrder[to]
	if !ok || to == StatusDispatched {
		return false
	}
	if strict {
		return nextTrackStatus[from] == to
	}
	return toRank > trackOrder[from]
}

// ValidDecision reports whether the approval workflow may decide on a suggestion.
func ValidDecision(from SuggestionStatus) bool {
	return from == StatusPending
}
