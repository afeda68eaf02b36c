package server

import (
	"payment-engine/internal/conf"
	"payment-engine/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer creates the HTTP server.
func NewHTTPServer(c *conf.Bootstrap, chargeService *service.ChargeService, webhookService *service.WebhookService) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.Timeout != "" {
			opts = append(opts, http.Timeout(c.Server.Http.GetTimeout()))
		}
	}
	srv := http.NewServer(opts...)

	route := srv.Route("/")
	route.POST("/charges", chargeService.CreateCharge)
	route.GET("/charges/{id}/status", chargeService.GetChargeStatus)

	// Webhook handlers bypass the kratos codec: signature verification
	// runs over the raw request body.
	srv.HandleFunc("/webhooks/mercadopago", webhookService.HandleMercadoPago)
	srv.HandleFunc("/webhooks/stripe", webhookService.HandleStripe)

	srv.Handle("/metrics", promhttp.Handler())
	return srv
}
