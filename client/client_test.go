package client

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestHandleRequestFillsHostSchemeAndHeaders(t *testing.T) {
	var captured *http.Request

	c := NewClient("abc123", zerolog.Nop())
	c.HTTP = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})}

	req, err := http.NewRequest(http.MethodGet, "/gateway/bot", nil)
	require.NoError(t, err)

	res, err := c.HandleRequest(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.NotNil(t, captured)
	assert.Equal(t, "discord.com", captured.URL.Host)
	assert.Equal(t, "https", captured.URL.Scheme)
	assert.True(t, strings.HasPrefix(captured.URL.Path, "/api/v6"))
	assert.Equal(t, "Bot abc123", captured.Header.Get("Authorization"))
}

func TestHandleRequestPreservesExistingAuthorization(t *testing.T) {
	var captured *http.Request

	c := NewClient("abc123", zerolog.Nop())
	c.HTTP = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})}

	req, err := http.NewRequest(http.MethodGet, "/gateway/bot", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer override")

	_, err = c.HandleRequest(req)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "Bearer override", captured.Header.Get("Authorization"))
}

func TestHandleRequestUnauthorizedReturnsError(t *testing.T) {
	c := NewClient("abc123", zerolog.Nop())
	c.HTTP = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusUnauthorized, Body: http.NoBody}, nil
	})}

	req, err := http.NewRequest(http.MethodGet, "/gateway/bot", nil)
	require.NoError(t, err)

	_, err = c.HandleRequest(req)
	assert.EqualError(t, err, "invalid token passed")
}

func TestFetchJSONDecodesBody(t *testing.T) {
	c := NewClient("abc123", zerolog.Nop())
	c.HTTP = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"url":"wss://gateway.discord.gg","shards":4}`)),
		}, nil
	})}

	var out struct {
		URL    string `json:"url"`
		Shards int    `json:"shards"`
	}
	require.NoError(t, c.FetchJSON(http.MethodGet, "/gateway/bot", nil, &out))

	assert.Equal(t, "wss://gateway.discord.gg", out.URL)
	assert.Equal(t, 4, out.Shards)
}
