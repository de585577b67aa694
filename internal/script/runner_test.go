package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRun_PipesStdin(t *testing.T) {
	out, err := Runner{}.Run(context.Background(), "cat", []byte("- foo: bar\n"))
	require.NoError(t, err)
	assert.Equal(t, "- foo: bar\n", string(out))
}

func TestRun_ShellPipeline(t *testing.T) {
	out, err := Runner{}.Run(context.Background(), "tr a-z A-Z | head -c 3", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HEL", string(out))
}

func TestRun_NonZeroExitCarriesStderr(t *testing.T) {
	_, err := Runner{}.Run(context.Background(), "echo broken >&2; exit 3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	// The background child must die with the group, or Run would block on its stdout.
	_, err := Runner{Timeout: 200 * time.Millisecond}.Run(context.Background(), "sleep 10 & sleep 10", nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}
