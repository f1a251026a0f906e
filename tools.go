//go:build tools

package tools

// Pins the swagger generator used by `make swagger-gen`.
import (
	_ "github.com/swaggo/swag"
)
