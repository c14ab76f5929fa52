package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParams_FieldsList(t *testing.T) {
	out, err := formatParams(Params{"fields": []string{"a", "b"}, "limit": 5})
	require.NoError(t, err)
	assert.Equal(t, "a,b", out["fields"])
	assert.Equal(t, 5, out["limit"])

	out, err = formatParams(Params{"fields": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "a,b", out["fields"])
}

func TestFormatParams_FieldsStringMergedWithSubrequests(t *testing.T) {
	out, err := formatParams(Params{
		"fields":      "a,b",
		"subrequests": map[string]any{"c": map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", out["fields"])
	assert.NotContains(t, out, "subrequests")
}

func TestFormatParams_Subrequests(t *testing.T) {
	out, err := formatParams(Params{
		"subrequests": map[string]map[string]any{
			"videos": {"fields": []string{"t", "w"}, "limit": 4},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "videos.fields(t,w).limit(4)", out["fields"])
}

func TestFormatParams_SeveralSubrequestsSorted(t *testing.T) {
	out, err := formatParams(Params{
		"fields": []string{"id"},
		"subrequests": Params{
			"videos":    Params{"fields": "title", "sort": "recent", "limit": 2},
			"playlists": map[string]any{"fields": []any{"name"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "id,playlists.fields(name),videos.fields(title).limit(2).sort(recent)", out["fields"])
}

func TestFormatParams_DoesNotMutateCaller(t *testing.T) {
	params := Params{
		"fields":      []string{"id"},
		"subrequests": map[string]any{"videos": map[string]any{"limit": 1}},
	}
	_, err := formatParams(params)
	require.NoError(t, err)
	assert.Contains(t, params, "subrequests")
	assert.Equal(t, []string{"id"}, params["fields"])
}

func TestFormatParams_InvalidTypes(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"fields number", Params{"fields": 42}},
		{"fields mixed list", Params{"fields": []any{"a", 1}}},
		{"subrequests string", Params{"subrequests": "videos"}},
		{"subrequest not an object", Params{"subrequests": map[string]any{"videos": 3}}},
		{"subrequest fields number", Params{"subrequests": map[string]any{"videos": map[string]any{"fields": 3}}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := formatParams(tt.params)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestFormatParams_Nil(t *testing.T) {
	out, err := formatParams(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
