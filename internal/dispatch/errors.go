package dispatch

import "errors"

var (
	ErrIncidentNotFound           = errors.New("incident not found")
	ErrIncidentNotDispatchable    = errors.New("incident not dispatchable")
	ErrUnitNotFound               = errors.New("unit not found")
	ErrUnitUnavailable            = errors.New("unit unavailable")
	ErrVehicleUnavailable         = errors.New("vehicle unavailable")
	ErrSuggestionNotFound         = errors.New("suggestion not found")
	ErrInvalidStateTransition     = errors.New("invalid state transition")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrIncidentNotFound, "IncidentNotFound"},
	{ErrIncidentNotDispatchable, "IncidentNotDispatchable"},
	{ErrUnitNotFound, "UnitNotFound"},
	{ErrUnitUnavailable, "UnitUnavailable"},
	{ErrVehicleUnavailable, "VehicleUnavailable"},
	{ErrSuggestionNotFound, "SuggestionNotFound"},
	{ErrInvalidStateTransition, "InvalidStateTransition"},
	{ErrNotificationDeliveryFailed, "NotificationDeliveryFailed"},
}

// Kind returns the taxonomy name of err, or "Internal" for errors outside it.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsNotFound reports whether err names a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIncidentNotFound) ||
		errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrSuggestionNotFound)
}

// IsConflict reports whether err is a business-rule rejection caused by current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIncidentNotDispatchable) ||
		errors.Is(err, ErrUnitUnavailable) ||
		errors.Is(err, ErrVehicleUnavailable) ||
		errors.Is(err, ErrInvalidStateTransition)
}
