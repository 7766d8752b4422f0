package events

import "errors"

// ErrBusAlreadyStarted indicates a Subscribe call after the handler set was
// frozen by Start.
var ErrBusAlreadyStarted = errors.New("event bus already started; handler set is fixed at startup")
