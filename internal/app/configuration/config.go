package configuration

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	ProviderURL            string        `env:"PROVIDER_URL"`
	ProviderStatesSetupURL string        `env:"PROVIDER_STATES_SETUP_URL"` // Endpoint receiving {"consumer","state","states"} before each interaction
	RequestTimeout         time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	Concurrency            int           `env:"CONCURRENCY,default=4"`
	IsolatedProvider       bool          `env:"ISOLATED_PROVIDER"` // Provider gives every request its own state, replays need not be serialized
	ReportFormat           string        `env:"REPORT_FORMAT,default=text"`
	WaitForProvider        time.Duration `env:"WAIT_FOR_PROVIDER"` // Poll the provider for up to this long before verifying
	LogLevel               string        `env:"LOG_LEVEL,default=info"`
	LogFormat              string        `env:"LOG_FORMAT,default=text"`
	AdminPort              int           `env:"ADMIN_PORT,default=8080"`
	TLS                    TLSFiles
}

// TLSFiles configures the stub servers. CAFile turns on client certificate
// verification and requires CertFile and KeyFile.
type TLSFiles struct {
	CAFile   string `env:"TLS_CA_FILE"`
	CertFile string `env:"TLS_CERT_FILE"`
	KeyFile  string `env:"TLS_KEY_FILE"`
}

func (t TLSFiles) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

func NewFromEnv(ctx context.Context) (Config, error) {
	return newFromLookuper(ctx, envconfig.OsLookuper())
}

func newFromLookuper(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var config Config
	err := envconfig.ProcessWith(ctx, &config, l)
	if err != nil {
		return config, errors.Wrap(err, "process env config")
	}
	return config, nil
}

// ConfigureLogging applies LogLevel and LogFormat to the standard logger.
func (c Config) ConfigureLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	log.SetLevel(level)

	switch c.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("invalid log format %q, expected text or json", c.LogFormat)
	}
	return nil
}
