package core

import (
	"errors"

	"sdgateway/logging"
)

// DetailInvalidImage is the WebUI error detail for an init image it could
// not decode.
const DetailInvalidImage = "Invalid encoded image"

// User-facing texts for the error kinds callers can act on.
const (
	MsgMissingImage        = "please check the image link or quote an image you sent"
	MsgInvalidImage        = "please quote your own image or check the image link"
	MsgInsufficientBalance = "insufficient balance, please ask an administrator to top up"
	MsgAlignment           = "translation returned a different number of segments, try again or disable translation"
	MsgOptionsRejected     = "configuration data failed validation, please check the format"
)

// UserMessage turns err into text safe to show a caller. Known kinds get a
// corrective instruction; anything else is reported as "action: error" with
// backend hostnames removed.
func UserMessage(action string, err error) string {
	if err == nil {
		return ""
	}

	var (
		be *BackendError
		ve *ValidationError
	)
	switch {
	case errors.Is(err, ErrMissingImage):
		return MsgMissingImage
	case errors.Is(err, ErrInsufficientBalance):
		return MsgInsufficientBalance
	case errors.Is(err, ErrAlignment):
		return MsgAlignment
	case errors.Is(err, ErrTranslatorUnavailable):
		return ErrTranslatorUnavailable.Error()
	case errors.As(err, &be) && be.Detail == DetailInvalidImage:
		return MsgInvalidImage
	case errors.As(err, &ve):
		return ve.Error()
	}
	if ce, ok := IsConfigError(err); ok {
		return logging.RedactHosts(ce.Message)
	}

	text := err.Error()
	if action != "" {
		text = action + ": " + text
	}
	return logging.RedactHosts(text)
}
