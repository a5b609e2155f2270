package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestGraphs(t *testing.T) {
	t.Setenv("RELAY_DRIVER", "memory")
	t.Setenv("MESSAGING_ENABLED", "false")

	require.NoError(t, fx.ValidateApp(Gateway))
	require.NoError(t, fx.ValidateApp(Worker))
}
