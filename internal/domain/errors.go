package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound   = errors.New("player not found")
	ErrNoSkins          = errors.New("player has no skins")
	ErrInvalidSkin      = errors.New("invalid skin")
	ErrSkinNotOwned     = errors.New("skin not owned")
	ErrNoDrawableSkins  = errors.New("no drawable skins configured")
	ErrDataUnavailable  = errors.New("data unavailable")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrTwitchIDNotFound = errors.New("twitch id not found")
)

// IsValidationError reports whether an error is user-correctable rather than
// an infrastructure failure. Validation failures are replied to in chat and
// never logged at error level.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSkin) ||
		errors.Is(err, ErrSkinNotOwned) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrNoSkins)
}
