package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadiness(t *testing.T) {
	r := New()
	assert.False(t, r.Ready())
	assert.Equal(t, []string{"storage", "poller"}, r.Pending())

	r.SetStorageReady(true)
	assert.False(t, r.Ready())
	assert.Equal(t, []string{"poller"}, r.Pending())

	r.SetPollerReady(true)
	assert.True(t, r.Ready())
	assert.Empty(t, r.Pending())

	// 关闭流程先撤下轮询
	r.SetPollerReady(false)
	assert.False(t, r.Ready())
}
