package gateway

import (
	"net/url"

	"github.com/gorilla/schema"
	jsoniter "github.com/json-iterator/go"
)

// VERSION of gatewaycore, following Semantic Versioning.
const VERSION = "0.1"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// gatewayURLParams is the always-present portion of the gateway query
// string, built with gorilla/schema so the encoding stays declarative
// instead of hand-built string concatenation.
type gatewayURLParams struct {
	Encoding string `schema:"encoding"`
	Version  int    `schema:"v"`
}

// BuildGatewayURL appends `?encoding=json&v=6[&compress=zlib-stream]`
// to base, per the gateway URL external interface.
func BuildGatewayURL(base string, compress bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	values := url.Values{}
	encoder := schema.NewEncoder()
	if err := encoder.Encode(&gatewayURLParams{Encoding: "json", Version: 6}, values); err != nil {
		return "", err
	}
	if compress {
		values.Set("compress", "zlib-stream")
	}

	u.RawQuery = values.Encode()
	return u.String(), nil
}
