package server

import (
	"payment-engine/internal/biz"

	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(
	NewHTTPServer,
	NewEventProducerServer,
	wire.Bind(new(biz.EventPublisher), new(*EventProducerServer)),
)
