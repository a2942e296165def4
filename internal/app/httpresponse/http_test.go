package httpresponse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorf(t *testing.T) {
	err := Errorf("unable to find verification '%s'", "abc")
	assert.Equal(t, "unable to find verification 'abc'", err.Error())

	data, jsonErr := json.Marshal(err)
	require.NoError(t, jsonErr)
	assert.JSONEq(t, `{"error_message": "unable to find verification 'abc'"}`, string(data))
}
