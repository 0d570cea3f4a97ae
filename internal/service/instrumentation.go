package service

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/xiaot623/gogo/ava/internal/service"

var tracer = otel.Tracer(scopeName)
