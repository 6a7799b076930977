package retention

import "errors"

var errNegativeHorizon = errors.New("retention: horizon must be non-negative")
