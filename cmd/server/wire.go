//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"payment-engine/internal/biz"
	"payment-engine/internal/conf"
	"payment-engine/internal/data"
	"payment-engine/internal/gateway"
	"payment-engine/internal/server"
	"payment-engine/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(server.ProviderSet, data.ProviderSet, gateway.ProviderSet, biz.ProviderSet, service.ProviderSet, newApp))
}
