package margin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	t.Parallel()
	assert.False(t, Unset.Valid())
	assert.True(t, Isolated.Valid())
	assert.True(t, Cross.Valid())
	assert.False(t, Type(99).Valid())
}

func TestStringToMarginType(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		in   string
		want Type
	}{
		{"isolated", Isolated}, {"ISOLATED", Isolated},
		{"cross", Cross}, {"crossed", Cross}, {"multi", Cross}, {"CROSS", Cross},
		{"", Unset},
	} {
		got, err := StringToMarginType(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := StringToMarginType("portfolio")
	require.ErrorIs(t, err, ErrInvalidMarginType)
}

func TestString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "isolated", Isolated.String())
	assert.Equal(t, "cross", Cross.String())
	assert.Equal(t, "", Unset.String())
	assert.Equal(t, "unknown", Type(99).String())
	assert.Equal(t, "ISOLATED", Isolated.Upper())
}

func TestIsValidString(t *testing.T) {
	t.Parallel()
	assert.True(t, IsValidString("isolated"))
	assert.True(t, IsValidString("CROSSED"))
	assert.True(t, IsValidString(""))
	assert.False(t, IsValidString("portfolio"))
}

func TestJSON(t *testing.T) {
	t.Parallel()
	var body struct {
		MarginType Type `json:"marginType"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"marginType":"isolated"}`), &body))
	assert.Equal(t, Isolated, body.MarginType)

	require.NoError(t, json.Unmarshal([]byte(`{"marginType":"crossed"}`), &body))
	assert.Equal(t, Cross, body.MarginType)

	require.Error(t, json.Unmarshal([]byte(`{"marginType":"portfolio"}`), &body))

	out, err := json.Marshal(Cross)
	require.NoError(t, err)
	assert.Equal(t, `"cross"`, string(out))
}
