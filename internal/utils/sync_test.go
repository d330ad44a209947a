package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/immix/internal/utils"
)

func TestOptionalMutex(t *testing.T) {
	m := utils.OptionalMutex{UseMutex: true}
	m.Lock()
	require.False(t, m.TryLock())
	m.Unlock()
	require.True(t, m.TryLock())
	m.Unlock()

	disabled := utils.OptionalMutex{}
	disabled.Lock()
	require.True(t, disabled.TryLock())
	disabled.Unlock()
}
