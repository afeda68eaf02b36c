//go:build wireinject
// +build wireinject

package main

import (
	"payment-engine/internal/biz"
	"payment-engine/internal/conf"
	"payment-engine/internal/data"
	"payment-engine/internal/gateway"
	"payment-engine/internal/server"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init sweeper application.
func wireApp(*conf.Bootstrap, log.Logger) (*SweepApp, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		gateway.ProviderSet,
		biz.ProviderSet,
		server.NewEventProducerServer,
		wire.Bind(new(biz.EventPublisher), new(*server.EventProducerServer)),
		wire.Struct(new(SweepApp), "*"),
	))
}
