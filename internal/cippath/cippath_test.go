package cippath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	assert.Equal(t, "10.0.0.1/bp/2", AppendBackplane("10.0.0.1", 2))
	assert.Equal(t, "10.0.0.1/bp/2/cnet", AppendBusSegment("10.0.0.1", 2))
	assert.Equal(t, "10.0.0.1/bp/2/cnet/5", AppendBusNode(AppendBusSegment("10.0.0.1", 2), 5))
	assert.Equal(t, "10.0.0.1/bp/2/cnet/5/bp/0", AppendBackplane(AppendBusNode(AppendBusSegment("10.0.0.1", 2), 5), 0))
}

func TestStripLeadingSegment(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"10.0.0.1", "/"},
		{"10.0.0.1/", "/"},
		{"", "/"},
		{"10.0.0.1/bp/2", "bp/2"},
		{AppendBusNode(AppendBusSegment("10.0.0.1", 2), 5), "bp/2/cnet/5"},
		{AppendBackplane(AppendBusNode(AppendBusSegment(AppendBackplane("10.0.0.1", 2), 1), 5), 0), "bp/2/bp/1/cnet/5/bp/0"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, StripLeadingSegment(tc.path))
		})
	}
}

func TestReroot(t *testing.T) {
	assert.Equal(t, "line-4", Reroot("10.0.0.1", "line-4"))
	assert.Equal(t, "line-4/bp/2/cnet/5", Reroot("10.0.0.1/bp/2/cnet/5", "line-4"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    Route
		wantErr bool
	}{
		{
			"address only",
			"10.0.0.1",
			Route{Host: "10.0.0.1", Hops: []Hop{}},
			false,
		},
		{
			"nested route",
			"10.0.0.1/bp/2/cnet/5/bp/0",
			Route{
				Host: "10.0.0.1",
				Hops: []Hop{
					{Port: PortBackplane, Link: 2},
					{Port: PortNetwork, Link: 5},
					{Port: PortBackplane, Link: 0},
				},
			},
			false,
		},
		{
			"segment base path has no node",
			"10.0.0.1/bp/2/cnet",
			Route{},
			true,
		},
		{
			"unknown token",
			"10.0.0.1/rack/2",
			Route{},
			true,
		},
		{
			"non numeric slot",
			"10.0.0.1/bp/x",
			Route{},
			true,
		},
		{
			"empty",
			"",
			Route{},
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.path)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrPath)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
