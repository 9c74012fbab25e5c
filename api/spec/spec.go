// Package spec carries the embedded OpenAPI description of the HTTP surface.
package spec

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
