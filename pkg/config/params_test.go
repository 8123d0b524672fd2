package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paramsYAML = `
params:
  kindergeld:
    satz:
      - from: "2021-01-01"
        value: 219
      - from: "2023-01-01"
        value: 250
    altersgrenze: 18
  zuschlag:
    - from: "2024-01-01"
      value: 20.5
  stufen: [1, 2, 3]
`

const paramsCUE = `
params: {
	kindergeld: satz: [
		{from: "2021-01-01", value: 219.0},
		{from: "2023-01-01", value: 250.0},
	]
	grenzen: [
		{from: "2020-01-01", value: {unten: 10, oben: [{from: "2022-01-01", value: 99}]}},
	]
}
`

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestLoadParams_YAML(t *testing.T) {
	rl := NewRunLoader()
	path := writeFile(t, t.TempDir(), "params.yaml", paramsYAML)

	tests := []struct {
		date     string
		satz     float64
		zuschlag bool
	}{
		{"2021-06-30", 219, false},
		{"2023-01-01", 250, false},
		{"2024-03-01", 250, true},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			p, err := rl.LoadParams(context.Background(), path, date(t, tt.date))
			require.NoError(t, err)

			satz, err := p.Float("kindergeld.satz")
			require.NoError(t, err)
			assert.Equal(t, tt.satz, satz)

			grenze, err := p.Float("kindergeld.altersgrenze")
			require.NoError(t, err)
			assert.Equal(t, 18.0, grenze)

			assert.Equal(t, tt.zuschlag, p.Has("zuschlag"))
			assert.True(t, p.Has("stufen"))
		})
	}
}

func TestLoadParams_BeforeFirstEntry(t *testing.T) {
	rl := NewRunLoader()
	path := writeFile(t, t.TempDir(), "params.yml", paramsYAML)

	p, err := rl.LoadParams(context.Background(), path, date(t, "2019-01-01"))
	require.NoError(t, err)
	assert.False(t, p.Has("kindergeld.satz"))
	assert.True(t, p.Has("kindergeld.altersgrenze"))
}

func TestLoadParams_CUE(t *testing.T) {
	rl := NewRunLoader()
	path := writeFile(t, t.TempDir(), "params.cue", paramsCUE)

	p, err := rl.LoadParams(context.Background(), path, date(t, "2021-02-01"))
	require.NoError(t, err)

	satz, err := p.Float("kindergeld.satz")
	require.NoError(t, err)
	assert.Equal(t, 219.0, satz)

	unten, err := p.Float("grenzen.unten")
	require.NoError(t, err)
	assert.Equal(t, 10.0, unten)
	assert.False(t, p.Has("grenzen.oben"))

	p, err = rl.LoadParams(context.Background(), path, date(t, "2022-06-01"))
	require.NoError(t, err)
	oben, err := p.Float("grenzen.oben")
	require.NoError(t, err)
	assert.Equal(t, 99.0, oben)
}

func TestLoadParams_Errors(t *testing.T) {
	rl := NewRunLoader()
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name: "duplicate from",
			file: "dup.yaml",
			content: `
params:
  satz:
    - {from: "2021-01-01", value: 1}
    - {from: "2021-01-01", value: 2}
`,
			want: "two entries from 2021-01-01",
		},
		{
			name: "bad from",
			file: "bad.yaml",
			content: `
params:
  satz:
    - {from: "January", value: 1}
`,
			want: "invalid from date",
		},
		{
			name:    "no params",
			file:    "none.yaml",
			content: "other: 1\n",
			want:    "invalid configuration",
		},
		{
			name:    "cue syntax",
			file:    "broken.cue",
			content: "params: {",
			want:    "invalid configuration",
		},
		{
			name:    "unsupported extension",
			file:    "params.toml",
			content: "",
			want:    "unsupported params file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			_, err := rl.LoadParams(context.Background(), path, date(t, "2022-01-01"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := rl.LoadParams(context.Background(), "does-not-exist.yaml", date(t, "2022-01-01"))
	assert.ErrorContains(t, err, "failed to read params")
}
