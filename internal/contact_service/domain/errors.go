package domain

import "errors"

var ErrContactNotFound = errors.New("contact not found")
