// Package settings reads the process environment.
package settings

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Settings holds the environment driven configuration of the workers.
type Settings struct {
	// RedisURL selects the durable backend. Jobs run inline when it is empty.
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`
	// TestMode waits for no confirmation blocks and disables live payments.
	TestMode bool `env:"TEST_MODE" envDefault:"false"`

	SentryDSN   string `env:"SENTRY_DSN"`
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	// ConfigFile is an optional JSON file with queue tuning.
	ConfigFile string `env:"SHOPQUEUE_CONFIG"`

	Failure  FailureSettings
	Chain    ChainSettings
	Mailgun  MailgunSettings
	Printful PrintfulSettings
	DNS      DNSSettings
}

// FailureSettings configures where failed jobs are reported.
type FailureSettings struct {
	DiscordWebhook string   `env:"DISCORD_WEBHOOK"`
	TrackedQueues  []string `env:"SENTRY_QUEUES" envSeparator:"," envDefault:"tx,createListing,makeOffer,printfulSync,etl,dns,deployment"`
	SilencedQueues []string `env:"DISCORD_SILENCED_QUEUES" envSeparator:"," envDefault:"discordWebhook"`
	SilencedShops  []int64  `env:"DISCORD_SILENCED_SHOPS" envSeparator:","`
}

// ChainSettings configures the blockchain client.
type ChainSettings struct {
	SignerKey           string        `env:"SIGNER_PRIVATE_KEY"`
	ConfirmationTimeout time.Duration `env:"CONFIRMATION_TIMEOUT" envDefault:"30m"`
	PollInterval        time.Duration `env:"CONFIRMATION_POLL_INTERVAL" envDefault:"4s"`
	Blocks              *int          `env:"CONFIRMATION_BLOCKS"`
	OfferFinalizeAfter  time.Duration `env:"OFFER_FINALIZE_AFTER" envDefault:"720h"`
}

// MailgunSettings configures outgoing email.
type MailgunSettings struct {
	Domain    string `env:"MAILGUN_DOMAIN"`
	APIKey    string `env:"MAILGUN_API_KEY"`
	FromEmail string `env:"MAILGUN_FROM_EMAIL" envDefault:"no-reply@example.com"`
	FromName  string `env:"MAILGUN_FROM_NAME" envDefault:"Shop"`
	APIBase   string `env:"MAILGUN_API_BASE"`
}

// Enabled reports whether email can be sent.
func (m MailgunSettings) Enabled() bool {
	return m.Domain != "" && m.APIKey != ""
}

// PrintfulSettings configures the catalog sync.
type PrintfulSettings struct {
	BaseURL        string  `env:"PRINTFUL_API_URL" envDefault:"https://api.printful.com"`
	RequestsPerSec float64 `env:"PRINTFUL_RATE" envDefault:"2"`
	MockupWidth    int     `env:"PRINTFUL_MOCKUP_WIDTH" envDefault:"540"`
}

// DNSSettings configures custom domain verification.
type DNSSettings struct {
	Resolver     string   `env:"DNS_RESOLVER" envDefault:"1.1.1.1:53"`
	// CNAMETarget is the base host; a shop's domain must CNAME to
	// "<shop>.<network>.<CNAMETarget>".
	CNAMETarget  string   `env:"DNS_CNAME_TARGET"`
	ServingAddrs []string `env:"DNS_SERVING_ADDRS" envSeparator:","`
}

// Load reads the optional .env files, then parses the environment.
func Load(files ...string) (Settings, error) {
	// .env files are optional; real environment variables take precedence.
	_ = godotenv.Load(files...)
	return Parse(env.Options{})
}

// Parse reads Settings with the given options. Tests pass an Environment map.
func Parse(opts env.Options) (Settings, error) {
	s, err := env.ParseAsWithOptions[Settings](opts)
	if err != nil {
		return Settings{}, errors.Wrap(err, "parse environment")
	}
	return s, nil
}

// Durable reports whether a broker is configured.
func (s Settings) Durable() bool {
	return s.RedisURL != ""
}

// ConfirmationBlocks is the number of blocks to wait after a transaction's
// block: none in test mode and 2 otherwise, unless set explicitly.
func (s Settings) ConfirmationBlocks() int {
	if s.Chain.Blocks != nil {
		return *s.Chain.Blocks
	}
	if s.TestMode {
		return 0
	}
	return 2
}
