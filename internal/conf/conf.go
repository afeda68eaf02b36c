package conf

import "time"

// Bootstrap is the root configuration scanned from configs/config.yaml.
type Bootstrap struct {
	Server  *Server  `json:"server"`
	Data    *Data    `json:"data"`
	Gateway *Gateway `json:"gateway"`
	Payment *Payment `json:"payment"`
	Sweep   *Sweep   `json:"sweep"`
}

type Server struct {
	Http *HTTP `json:"http"`
}

type HTTP struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
	Timeout string `json:"timeout"`
}

// GetTimeout parses the configured timeout, defaulting to 1s.
func (h *HTTP) GetTimeout() time.Duration {
	return parseDuration(h.Timeout, time.Second)
}

type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

type Database struct {
	Source string `json:"source"`
}

type Redis struct {
	Addr         string `json:"addr"`
	Password     string `json:"password"`
	Db           int    `json:"db"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

func (r *Redis) GetReadTimeout() time.Duration {
	return parseDuration(r.ReadTimeout, 200*time.Millisecond)
}

func (r *Redis) GetWriteTimeout() time.Duration {
	return parseDuration(r.WriteTimeout, 200*time.Millisecond)
}

type Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	Topic       string   `json:"topic"`
	GroupName   string   `json:"group_name"`
	RetryTimes  int32    `json:"retry_times"`
}

type Gateway struct {
	Mercadopago *MercadoPago `json:"mercadopago"`
	Stripe      *Stripe      `json:"stripe"`
}

type MercadoPago struct {
	BaseUrl       string `json:"base_url"`
	AccessToken   string `json:"access_token"`
	WebhookSecret string `json:"webhook_secret"`
	Timeout       string `json:"timeout"`
}

func (m *MercadoPago) GetTimeout() time.Duration {
	return parseDuration(m.Timeout, 5*time.Second)
}

type Stripe struct {
	BaseUrl       string `json:"base_url"`
	SecretKey     string `json:"secret_key"`
	WebhookSecret string `json:"webhook_secret"`
	Timeout       string `json:"timeout"`
	Tolerance     string `json:"tolerance"`
	SuccessUrl    string `json:"success_url"`
	CancelUrl     string `json:"cancel_url"`
}

func (s *Stripe) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, 5*time.Second)
}

// GetTolerance is the maximum accepted age of a signed webhook timestamp.
func (s *Stripe) GetTolerance() time.Duration {
	return parseDuration(s.Tolerance, 5*time.Minute)
}

type Payment struct {
	FreeFeeRate         float64 `json:"free_fee_rate"`
	ProFeeRate          float64 `json:"pro_fee_rate"`
	PixKey              string  `json:"pix_key"`
	PixKeyType          string  `json:"pix_key_type"`
	MerchantName        string  `json:"merchant_name"`
	MerchantCity        string  `json:"merchant_city"`
	PixExpiry           string  `json:"pix_expiry"`
	StatusRetryAttempts int     `json:"status_retry_attempts"`
	StatusRetryBackoff  string  `json:"status_retry_backoff"`
}

func (p *Payment) GetPixExpiry() time.Duration {
	return parseDuration(p.PixExpiry, 30*time.Minute)
}

func (p *Payment) GetStatusRetryBackoff() time.Duration {
	return parseDuration(p.StatusRetryBackoff, 200*time.Millisecond)
}

type Sweep struct {
	BatchSize     int    `json:"batch_size"`
	OrphanGrace   string `json:"orphan_grace"`
	RetentionDays int    `json:"retention_days"`
}

// GetOrphanGrace is how long a pending charge may sit without a webhook
// before the orphan sweep re-queries the provider.
func (s *Sweep) GetOrphanGrace() time.Duration {
	return parseDuration(s.OrphanGrace, 15*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
