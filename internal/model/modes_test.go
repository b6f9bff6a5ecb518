package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

func TestParseSystemMode(t *testing.T) {
	for _, s := range []string{"off", "auto", "comfort", "eco", "frostfree", "test", "dhwonly", "manual"} {
		m, err := model.ParseSystemMode(s)
		assert.NoError(t, err, s)
		assert.Equal(t, s, string(m))
	}
	_, err := model.ParseSystemMode("bogus")
	assert.Error(t, err)
}

func TestParseRunMode(t *testing.T) {
	for _, s := range []string{"off", "auto", "comfort", "eco", "frostfree", "test", "dhwonly"} {
		m, err := model.ParseRunMode(s)
		assert.NoError(t, err, s)
		assert.Equal(t, s, string(m))
	}
	_, err := model.ParseRunMode("manual")
	assert.Error(t, err, "manual is a system mode, not a runmode")
}

func TestResolveRunMode(t *testing.T) {
	tests := []struct {
		name     string
		own      model.RunMode
		sys      model.SystemMode
		expected model.RunMode
	}{
		{"pinned mode wins", model.RunEco, model.SysComfort, model.RunEco},
		{"auto follows off", model.RunAuto, model.SysOff, model.RunOff},
		{"auto follows comfort", model.RunAuto, model.SysComfort, model.RunComfort},
		{"auto follows eco", model.RunAuto, model.SysEco, model.RunEco},
		{"auto follows frostfree", model.RunAuto, model.SysFrostFree, model.RunFrostFree},
		{"auto follows dhwonly", model.RunAuto, model.SysDHWOnly, model.RunDHWOnly},
		{"auto under sysauto uses fallback", model.RunAuto, model.SysAuto, model.RunComfort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.ResolveRunMode(tt.own, tt.sys, model.RunComfort)
			assert.Equal(t, tt.expected, got)
		})
	}
}
