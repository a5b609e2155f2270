package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands(t *testing.T) {
	root := NewRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"start", "worker", "config", "version"}, names)
}

func TestConfigRedactsToken(t *testing.T) {
	t.Setenv("BACKEND_TOKEN", "secret-token")
	t.Setenv("BACKEND_BASE_URL", "http://backend:8080/api")

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"config"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "http://backend:8080/api/lifelines_order")
	assert.Contains(t, out.String(), "<redacted>")
	assert.NotContains(t, out.String(), "secret-token")
}
