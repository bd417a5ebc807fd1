package lib

import (
	"github.com/maximhq/bifrost-live/core/schemas"
)

var logger schemas.Logger = schemas.NoOpLogger{}

// SetLogger sets the logger for the application.
func SetLogger(l schemas.Logger) {
	if l == nil {
		l = schemas.NoOpLogger{}
	}
	logger = l
}
