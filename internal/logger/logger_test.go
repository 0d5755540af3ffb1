package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vexis.log")
	l, err := New("debug", path)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
	assert.FileExists(t, path)

	_, err = New("loud", "")
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
	OrNop(nil).Info("discarded")

	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
