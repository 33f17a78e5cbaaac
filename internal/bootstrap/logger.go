package bootstrap

import (
	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
)

// NewLogger builds the process logger from the log config section.
func NewLogger(lc config.LogConfig) (logging.Logger, error) {
	return logging.NewLogger(logging.LogConfig{
		Level:       lc.Level,
		Format:      lc.Format,
		OutputPaths: lc.OutputPaths,
	})
}

//Personal.AI order the ending
