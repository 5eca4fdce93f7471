package logging

import (
	"go.uber.org/zap"
)

// RunFields identifies a campaign run in every entry of its logger.
func RunFields(runID string, categories int) []zap.Field {
	return []zap.Field{
		zap.String("run_id", runID),
		zap.Int("categories", categories),
	}
}

// CategoryFields describes a category at the start of its run.
//
// Example:
//
//	logger.Info("category started", logging.CategoryFields("office", 20)...)
func CategoryFields(category string, target int) []zap.Field {
	return []zap.Field{
		zap.String("category", category),
		zap.Int("target", target),
	}
}

// RequestFields describes one image request within a category.
func RequestFields(index int, attempt int, seed int64) []zap.Field {
	return []zap.Field{
		zap.Int("index", index),
		zap.Int("attempt", attempt),
		zap.Int64("seed", seed),
	}
}
