package config

import (
	"fmt"
	"os"
	"time"

	"github.com/comnecter/verifymail/internal/domain"
	"github.com/comnecter/verifymail/internal/metrics"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Environment variables holding the delivery credential and sender override.
const (
	EnvAPIKey      = "SENDGRID_API_KEY"
	EnvSenderEmail = "SENDGRID_SENDER_EMAIL"
)

// DefaultSenderEmail is used when no sender override is configured anywhere.
// It must be a verified sender with the provider.
const DefaultSenderEmail = "noreply@comnecter.com"

const deliveryCacheKey = "delivery"

// ResolverDeps configures a Resolver.
type ResolverDeps struct {
	Legacy    LegacySource
	LookupEnv func(string) (string, bool) // defaults to os.LookupEnv
	CacheTTL  time.Duration                // <= 0 disables caching
	Logger    *zap.SugaredLogger
}

// Resolver builds a DeliveryConfiguration from the environment and the legacy store.
// Successful resolutions may be cached; failures never are.
type Resolver struct {
	legacy    LegacySource
	lookupEnv func(string) (string, bool)
	cache     *gocache.Cache
	log       *zap.SugaredLogger
}

func NewResolver(deps ResolverDeps) *Resolver {
	r := &Resolver{
		legacy:    deps.Legacy,
		lookupEnv: deps.LookupEnv,
		log:       deps.Logger,
	}
	if r.lookupEnv == nil {
		r.lookupEnv = os.LookupEnv
	}
	if r.log == nil {
		r.log = zap.NewNop().Sugar()
	}
	if deps.CacheTTL > 0 {
		r.cache = gocache.New(deps.CacheTTL, 2*deps.CacheTTL)
	}
	return r
}

// Resolve returns the delivery configuration or an error wrapping domain.ErrConfiguration.
//
// API key:      SENDGRID_API_KEY -> sendgrid.apikey -> error.
// Sender email: SENDGRID_SENDER_EMAIL -> sendgrid.senderemail -> DefaultSenderEmail.
func (r *Resolver) Resolve() (domain.DeliveryConfiguration, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(deliveryCacheKey); ok {
			metrics.ConfigResolutions.WithLabelValues("cached").Inc()
			return v.(domain.DeliveryConfiguration), nil
		}
	}

	legacy := r.loadLegacy()
	var dc domain.DeliveryConfiguration

	if v, ok := r.env(EnvAPIKey); ok {
		dc.APIKey, dc.APIKeySource = v, domain.SourceEnv
	} else if v, ok := legacy.Lookup(LegacyKeyAPIKey); ok {
		dc.APIKey, dc.APIKeySource = v, domain.SourceLegacy
	} else {
		metrics.ConfigResolutions.WithLabelValues("error").Inc()
		return domain.DeliveryConfiguration{}, fmt.Errorf("missing api key: set %s or %s: %w", EnvAPIKey, LegacyKeyAPIKey, domain.ErrConfiguration)
	}

	if v, ok := r.env(EnvSenderEmail); ok {
		dc.SenderEmail, dc.SenderSource = v, domain.SourceEnv
	} else if v, ok := legacy.Lookup(LegacyKeySenderEmail); ok {
		dc.SenderEmail, dc.SenderSource = v, domain.SourceLegacy
	} else {
		dc.SenderEmail, dc.SenderSource = DefaultSenderEmail, domain.SourceDefault
	}

	r.log.Debugw("resolved delivery configuration",
		"api_key_source", dc.APIKeySource,
		"api_key_length", len(dc.APIKey),
		"sender_email", dc.SenderEmail,
		"sender_source", dc.SenderSource,
	)
	metrics.ConfigResolutions.WithLabelValues("resolved").Inc()

	if r.cache != nil {
		r.cache.SetDefault(deliveryCacheKey, dc)
	}
	return dc, nil
}

// Invalidate drops any cached configuration so the next Resolve reads the sources again.
func (r *Resolver) Invalidate() {
	if r.cache != nil {
		r.cache.Delete(deliveryCacheKey)
	}
}

func (r *Resolver) env(key string) (string, bool) {
	v, ok := r.lookupEnv(key)
	return v, ok && v != ""
}

func (r *Resolver) loadLegacy() LegacyValues {
	if r.legacy == nil {
		return nil
	}
	lv, err := r.legacy.Values()
	if err != nil {
		r.log.Warnw("error reading legacy config, ignoring it", "err", err)
		return nil
	}
	return lv
}
