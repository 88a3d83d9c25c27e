package outbox

import "errors"

var (
	// ErrEventNotFound is returned when no event row exists for an id.
	ErrEventNotFound = errors.New("outbox: event not found")
	// ErrNotQuarantined is returned when requeueing an event that is not quarantined.
	ErrNotQuarantined = errors.New("outbox: event is not quarantined")

	// ErrTransientDelivery marks a subscriber failure worth retrying.
	ErrTransientDelivery = errors.New("outbox: transient delivery failure")
	// ErrPermanentDelivery marks a subscriber failure that retrying cannot fix;
	// it exhausts the retry budget for that subscriber immediately.
	ErrPermanentDelivery = errors.New("outbox: permanent delivery failure")
)

func isPermanent(err error) bool {
	return errors.Is(err, ErrPermanentDelivery)
}
