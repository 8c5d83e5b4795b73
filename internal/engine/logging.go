package engine

import "strings"

const engineComponentName = "engine"

func (e *Engine) logInfo(operation, correlationID, message string, attrs ...any) {
	e.logger.Info(message, append(e.logBase(operation, correlationID), attrs...)...)
}

func (e *Engine) logWarn(operation, correlationID, message string, attrs ...any) {
	e.logger.Warn(message, append(e.logBase(operation, correlationID), attrs...)...)
}

func (e *Engine) logDebug(operation, correlationID, message string, attrs ...any) {
	e.logger.Debug(message, append(e.logBase(operation, correlationID), attrs...)...)
}

func (e *Engine) logError(operation, correlationID string, err error, attrs ...any) {
	if err == nil {
		return
	}
	base := append(e.logBase(operation, correlationID), "error", err.Error())
	e.logger.Error("engine error", append(base, attrs...)...)
}

func (e *Engine) logBase(operation, correlationID string) []any {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = "n/a"
	}
	return []any{
		"component", engineComponentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", correlationID,
	}
}
