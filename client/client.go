package client

import (
	"errors"
	"io"
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client represents the REST client
type Client struct {
	Token string

	HTTP    *http.Client
	Buckets *sync.Map

	// We will manually add the API version
	APIVersion string

	// Used to safely create URLs and is filled if empty
	URLHost   string
	URLScheme string
	UserAgent string

	log zerolog.Logger
}

// NewClient makes a new client
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		Token:      token,
		HTTP:       http.DefaultClient,
		Buckets:    &sync.Map{},
		APIVersion: "6",
		URLHost:    "discord.com",
		URLScheme:  "https",
		log:        log.With().Str("component", "rest").Logger(),
	}
}

// FetchJSON attempts to convert the response into a JSON structure
func (c *Client) FetchJSON(method string, url string, body io.Reader, structure interface{}) (err error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return
	}

	res, err := c.HandleRequest(req)
	if err != nil {
		return
	}
	defer res.Body.Close()

	err = json.NewDecoder(res.Body).Decode(structure)
	if err != nil {
		return err
	}

	return
}

// HandleRequest makes a request to the Discord API
// TODO: Buckets and handle ratelimiting
func (c *Client) HandleRequest(req *http.Request) (res *http.Response, err error) {
	req.URL.Path = "/api/v" + c.APIVersion + req.URL.Path

	// Fill out Host and Scheme if it is empty
	if req.URL.Host == "" {
		req.URL.Host = c.URLHost
	}
	if req.URL.Scheme == "" {
		req.URL.Scheme = c.URLScheme
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bot "+c.Token)
	}

	// correlation ID tying the request log line to its outcome, matching
	// the request/response log pairs on a shared id the rest of the pack
	// uses for REST calls.
	corr := xid.New().String()

	c.log.Debug().Str("xid", corr).Str("method", req.Method).Str("path", req.URL.Path).Msg("rest: sending request")

	res, err = c.HTTP.Do(req)
	if err != nil {
		c.log.Warn().Str("xid", corr).Err(err).Str("path", req.URL.Path).Msg("rest: request failed")
		return
	}

	if res.StatusCode == http.StatusUnauthorized {
		c.log.Warn().Str("xid", corr).Str("path", req.URL.Path).Msg("rest: rejected with invalid token")
		err = errors.New("invalid token passed")
		return
	}

	if res.StatusCode >= http.StatusInternalServerError {
		c.log.Warn().Str("xid", corr).Int("status", res.StatusCode).Str("path", req.URL.Path).Msg("rest: server error")
	}

	return
}
