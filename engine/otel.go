package engine

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("@agentuity/rescache/engine")
