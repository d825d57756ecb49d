package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMap_ValueAndScanRoundTrip(t *testing.T) {
	m := JSONMap{"title": "hello", "count": float64(3)}
	v, err := m.Value()
	require.NoError(t, err)

	var out JSONMap
	require.NoError(t, out.Scan(v))
	assert.Equal(t, "hello", out["title"])
	assert.Equal(t, float64(3), out["count"])
}

func TestJSONMap_ScanNil(t *testing.T) {
	var out JSONMap
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}

func TestStringArray_ValueAndScanRoundTrip(t *testing.T) {
	a := StringArray{"a", "b,c", `d"e`}
	v, err := a.Value()
	require.NoError(t, err)

	var out StringArray
	require.NoError(t, out.Scan(v))
	assert.Equal(t, StringArray{"a", "b,c", `d"e`}, out)
}

func TestStringArray_ScanEmpty(t *testing.T) {
	var out StringArray
	require.NoError(t, out.Scan("{}"))
	assert.Equal(t, StringArray{}, out)
}

func TestStringArray_ValueEmpty(t *testing.T) {
	var a StringArray
	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}
