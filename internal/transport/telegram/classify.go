package telegram

import (
	"errors"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"

	"giveawaybot/internal/broadcast"
)

// classify converts a telebot error into a *broadcast.Signal.
//
//	FloodError (429)      -> RetryAfter
//	*Error with code 403  -> Forbidden (blocked, deactivated, kicked)
//	*Error / GroupError   -> APIError(code)
//	anything else         -> Unexpected
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sig *broadcast.Signal
	if errors.As(err, &sig) {
		return sig
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return broadcast.RetryAfter(time.Duration(flood.RetryAfter) * time.Second)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return broadcast.RetryAfter(time.Duration(floodPtr.RetryAfter) * time.Second)
	}

	var group tele.GroupError
	if errors.As(err, &group) {
		return broadcast.APIError(http.StatusBadRequest, group.Error())
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		if apiErr.Code == http.StatusForbidden {
			return broadcast.Forbidden(apiErr.Description)
		}
		return broadcast.APIError(apiErr.Code, apiErr.Description)
	}
	return broadcast.Unexpected(err.Error())
}
