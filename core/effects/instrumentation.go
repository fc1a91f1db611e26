package effects

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-relay/core/effects"

var logger = otelslog.NewLogger(scopeName)
