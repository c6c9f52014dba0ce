package memory

import (
	"testing"

	"github.com/jmcleod/slidergate/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, NewRepository())
}

func TestMemorySweep(t *testing.T) {
	storagetest.RunSweep(t, NewRepository())
}
