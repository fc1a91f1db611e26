package journal

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-relay/internal/journal"

var logger = otelslog.NewLogger(scopeName)
