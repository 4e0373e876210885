package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

func TestHandleModelsListsRegisteredProviders(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/models")
	require.NoError(t, err)

	var body map[string]gwtypes.ModelInfo
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "echo")
}

func TestGetModelByNameReturnsInfo(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/models/echo")
	require.NoError(t, err)

	var info gwtypes.ModelInfo
	decodeJSON(t, resp, &info)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo", info.Name)
}

func TestGetModelByNameMissingReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/models/ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnregisterModelRemovesIt(t *testing.T) {
	api := newTestAPI(t)
	req, _ := http.NewRequest(http.MethodDelete, api.url+"/api/v1/models/echo", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, err := http.Get(api.url + "/api/v1/models/echo")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestLoadModelOnNonLoadableProviderReturns501(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Post(api.url+"/api/v1/models/echo/load", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestUnloadModelOnNonLoadableProviderReturns501(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Post(api.url+"/api/v1/models/echo/unload", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestCheckCompatibilityOnNonLoadableProviderIsAlwaysCompatible(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/models/echo/check-compatibility")
	require.NoError(t, err)

	var body compatibilityResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Compatible)
}

func TestModelActionUnknownSuffixReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/models/echo/frobnicate")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
