package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowList_IsWanted(t *testing.T) {
	a := NewAllowList(
		[]string{"GspSystemInfo", "NV_VGPU_MSG_FUNCTION", ""},
		[]string{"NV_VGPU_MSG_EVENT_", "rpc_", ""},
	)

	tests := []struct {
		name string
		want bool
	}{
		{"GspSystemInfo", true},
		{"GspSystemInfoX", false},
		{"NV_VGPU_MSG_FUNCTION", true},
		{"NV_VGPU_MSG_EVENT_GSP_INIT_DONE", true},
		{"NV_VGPU_MSG_EVENT_", true},
		{"rpc_free_v03_00", true},
		{"RPC_free", false},
		{"", false},
		{"Gsp", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.IsWanted(tt.name))
		})
	}
}

func TestAllowList_ExactIsSorted(t *testing.T) {
	a := NewAllowList([]string{"b", "a", "c", "a"}, nil)
	assert.Equal(t, []string{"a", "b", "c"}, a.Exact())
	assert.Empty(t, a.Prefixes())
}

func TestAllowList_Nil(t *testing.T) {
	var a *AllowList
	assert.False(t, a.IsWanted("anything"))
}
