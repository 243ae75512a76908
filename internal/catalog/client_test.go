package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/blockforge/internal/schema"
)

func testPayload() Payload {
	return Payload{
		ResourceType: "block",
		Name:         "hero",
		PackageName:  "@site/hero",
		Version:      "1.2.0",
		Target:       "public",
		DisplayName:  "Hero",
		Schema: schema.Schema{
			{Key: "heading", Field: &schema.TextField{Common: schema.Common{Required: true}}},
		},
		Script: "export {};",
	}
}

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL+"/graphql", "secret-token", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client
}

func TestPublishSuccess(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var req struct {
			Query     string `json:"query"`
			Variables struct {
				Input map[string]interface{} `json:"input"`
			} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "publishResource")
		assert.Equal(t, "hero", req.Variables.Input["name"])
		assert.Equal(t, "1.2.0", req.Variables.Input["version"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"publishResource":{"id":"res_1","version":"1.2.0","url":"https://catalog.example.com/hero"}}}`))
	})

	result, err := client.Publish(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "res_1", result.ID)
	assert.Equal(t, "https://catalog.example.com/hero", result.URL)
}

func TestPublishRemoteError(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"monthly publish quota exceeded","extensions":{"code":"QUOTA_EXCEEDED"}}]}`))
	})

	_, err := client.Publish(context.Background(), testPayload())
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "QUOTA_EXCEEDED", remote.Code)
	assert.True(t, remote.Quota())
	assert.Contains(t, err.Error(), "monthly publish quota exceeded")
}

func TestPublishUnauthorized(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Publish(context.Background(), testPayload())
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "HTTP_401", remote.Code)
	assert.False(t, remote.Quota())
}

func TestPublishServerError(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.Publish(context.Background(), testPayload())
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	assert.Equal(t, http.StatusBadGateway, transport.StatusCode)
}

func TestPublishConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url, "")
	require.NoError(t, err)

	_, err = client.Publish(context.Background(), testPayload())
	var transport *TransportError
	require.True(t, errors.As(err, &transport))
	assert.Zero(t, transport.StatusCode)
}

func TestPublishEmptyResult(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"publishResource":null}}`))
	})

	_, err := client.Publish(context.Background(), testPayload())
	var transport *TransportError
	assert.True(t, errors.As(err, &transport))
}

func TestNewClientValidatesEndpoint(t *testing.T) {
	_, err := NewClient("ftp://catalog.example.com", "")
	assert.Error(t, err)

	_, err = NewClient("https://catalog.example.com/graphql", "")
	assert.NoError(t, err)
}
