package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epochForTest = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestDemoInMemory(t *testing.T) {
	err := run([]string{"storefront",
		"--persist", "none",
		"--list-cache", "memory",
		"--log-backend", "slog",
		"demo", "--latency", "0s", "--products", "40",
	})
	require.NoError(t, err)
}

func TestDemoThenInspectPebble(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mirror")
	common := []string{"storefront", "--persist", "pebble", "--pebble-dir", dir, "--list-cache", "ristretto"}

	require.NoError(t, run(append(append([]string{}, common...), "demo", "--latency", "0s", "--products", "40")))
	// a second start loads the mirror written by the first
	require.NoError(t, run(append(append([]string{}, common...), "--log-backend", "logrus", "demo", "--latency", "0s", "--products", "40")))
	require.NoError(t, run(append(append([]string{}, common...), "inspect")))
}

func TestUnknownBackendsAreRejected(t *testing.T) {
	assert.Error(t, run([]string{"storefront", "--persist", "none", "--list-cache", "tape", "demo", "--latency", "0s"}))
	assert.Error(t, run([]string{"storefront", "--persist", "floppy", "demo"}))
	assert.Error(t, run([]string{"storefront", "--log-backend", "printf", "demo"}))
	assert.Error(t, run([]string{"storefront", "--persist", "none", "inspect"}))
}

func TestDemoProductsAreDeterministic(t *testing.T) {
	a := demoProducts(10, epochForTest)
	b := demoProducts(10, epochForTest)
	assert.Equal(t, a, b)
	assert.Len(t, a, 10)
	assert.Equal(t, "lighting", a["p001"].Category)
}
