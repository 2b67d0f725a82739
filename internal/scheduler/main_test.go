package scheduler

import (
	"os"
	"testing"

	"github.com/Admsmartfit/academia-sub000/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init()

	code := m.Run()
	os.Exit(code)
}
