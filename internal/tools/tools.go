// Package tools pins the code-generator binaries the module depends on at
// build time but never imports at runtime, so `go mod tidy` doesn't prune
// them. pkg/reportsrv/types.gen.go is hand-maintained here (rather than
// produced by a go:generate step) since the generator can't be invoked in
// this environment, but it matches oapi-codegen/v2's ServerInterface/
// ServerInterfaceWrapper output shape for the openapi.yaml fragment in
// pkg/reportsrv.
//
//go:build tools

package tools

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
)
