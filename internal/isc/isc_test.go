package isc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/isc"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

func TestParseLeafValues(t *testing.T) {
	src := `
config {
	name "plant"; // trailing comment
	enabled yes;
	count 3;
	ratio 1.5;
	wait 1h30m;
	neg -7;
	# hash comment
	/* block
	   comment */
	other 'single quoted';
};
`
	nodes, err := isc.Parse(src)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	n := nodes[0]
	assert.Equal(t, "config", n.Key)
	assert.Equal(t, isc.KindBlock, n.Kind)

	name, err := n.Child("name").AsString()
	assert.NoError(t, err)
	assert.Equal(t, "plant", name)

	enabled, err := n.Child("enabled").AsBool()
	assert.NoError(t, err)
	assert.True(t, enabled)

	count, err := n.Child("count").AsInt()
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)

	ratio, err := n.Child("ratio").AsFloat()
	assert.NoError(t, err)
	assert.Equal(t, 1.5, ratio)

	wait, err := n.Child("wait").AsDuration()
	assert.NoError(t, err)
	assert.Equal(t, timekeep.Hour+30*timekeep.Minute, wait)

	neg, err := n.Child("neg").AsInt()
	assert.NoError(t, err)
	assert.Equal(t, int64(-7), neg)

	other, err := n.Child("other").AsString()
	assert.NoError(t, err)
	assert.Equal(t, "single quoted", other)
}

func TestParseLabelledBlocks(t *testing.T) {
	src := `
plant {
	pump "feed" {
		cooldown_time 30;
	};
	pump "recycle" {
		cooldown_time 60;
	};
};
`
	nodes, err := isc.Parse(src)
	require.NoError(t, err)
	pumps := nodes[0].ChildrenOf("pump")
	require.Len(t, pumps, 2)
	assert.Equal(t, "feed", pumps[0].Label)
	assert.Equal(t, "recycle", pumps[1].Label)
}

func TestParseBoolWords(t *testing.T) {
	for word, want := range map[string]bool{
		"true": true, "on": true, "yes": true,
		"false": false, "off": false, "no": false,
	} {
		nodes, err := isc.Parse("flag " + word + ";")
		require.NoError(t, err, word)
		got, err := nodes[0].AsBool()
		assert.NoError(t, err)
		assert.Equal(t, want, got, word)
	}
}

func TestParseIntAcceptedAsDuration(t *testing.T) {
	nodes, err := isc.Parse("wait 90;")
	require.NoError(t, err)
	d, err := nodes[0].AsDuration()
	assert.NoError(t, err)
	assert.Equal(t, 90*timekeep.Second, d)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing semicolon", `key "value"`},
		{"unterminated string", `key "value`},
		{"unterminated block", `block { key 1;`},
		{"unterminated comment", `/* forever`},
		{"bad unquoted value", `key bogus;`},
		{"stray brace", `}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := isc.Parse(tt.src)
			assert.Error(t, err)
		})
	}
}

func TestDumpRoundTrip(t *testing.T) {
	src := `
defconfig {
	startup_sysmode "frostfree";
	summer_maintenance yes;
	summer_run_interval 1w;
	summer_run_duration 5m;
};
plant {
	valve "mix" {
		kind "mixing";
		ete_time 120;
		tdeadzone 2.0;
		rid_open {
			backend "proto";
			name "v_open";
		};
	};
};
`
	first, err := isc.Parse(src)
	require.NoError(t, err)
	text := isc.Dump(first)
	second, err := isc.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// canonical form is a fixed point
	assert.Equal(t, text, isc.Dump(second))
}
