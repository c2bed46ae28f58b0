package ingest

import (
	"os"
	"testing"

	"drainwatch/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}
