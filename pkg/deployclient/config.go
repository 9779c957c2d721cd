package deployclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	flag "github.com/spf13/pflag"

	"github.com/nais/deploywatch/pkg/convergence"
	"github.com/nais/deploywatch/pkg/platform"
	"github.com/nais/deploywatch/pkg/scale"
)

const (
	ModeBuild  = "build"
	ModeScale  = "scale"
	ModeDeploy = "deploy"

	DefaultTimeout       = time.Minute * 15
	DefaultRetryInterval = time.Second * 5
)

var (
	ErrModeRequired        = errors.New("mode required; one of build, scale, deploy")
	ErrDeploymentRequired  = errors.New("deployment ID required")
	ErrTokenRequired       = errors.New("API token required")
	ErrTokenExpired        = errors.New("API token has expired")
	ErrConstraintsRequired = errors.New("at least one region constraint is required to verify scale")
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
)

type Config struct {
	Actions                   bool          `json:"actions"`
	APIURL                    string        `json:"api-url"`
	Debug                     bool          `json:"debug"`
	Deployment                string        `json:"deployment"`
	Follow                    bool          `json:"follow"`
	InitialDeploy             bool          `json:"initial-deploy"`
	LogFormat                 string        `json:"log-format"`
	LogsIndex                 string        `json:"logs-index"`
	LogsURL                   string        `json:"logs-url"`
	OpenTelemetryCollectorURL string        `json:"otel-collector-endpoint"`
	PollInterval              time.Duration `json:"poll-interval"`
	PushgatewayURL            string        `json:"pushgateway-url"`
	Quiet                     bool          `json:"quiet"`
	RequestTimeout            time.Duration `json:"request-timeout"`
	Retry                     bool          `json:"retry"`
	RetryInterval             time.Duration `json:"retry-interval"`
	Scale                     []string      `json:"scale"`
	ScaleFile                 string        `json:"scale-file"`
	ScaleTimeout              time.Duration `json:"scale-timeout"`
	Team                      string        `json:"team"`
	Timeout                   time.Duration `json:"timeout"`
	Token                     string        `json:"token"`
	VerifyOnly                bool          `json:"verify-only"`

	// Set from the first positional argument.
	Mode string `json:"-"`
	// Resolved from Scale and ScaleFile by Validate.
	Constraints scale.Constraints `json:"-"`
}

// InitConfig registers command-line flags. Every flag can also be given as an
// environment variable, upper-cased with dashes replaced by underscores.
func InitConfig() {
	flag.Bool("actions", false, "Use GitHub Actions compatible error and warning messages.")
	flag.String("api-url", platform.DefaultURL, "URL to the deployment platform API.")
	flag.Bool("debug", false, "Print debug messages, including poll cycles.")
	flag.String("deployment", "", "Deployment ID to watch.")
	flag.Bool("follow", true, "Keep the build event stream open until the build finishes.")
	flag.Bool("initial-deploy", false, "Require at least one running instance per region, even if the minimum is zero.")
	flag.String("log-format", "text", "Log format, one of text, json.")
	flag.String("logs-index", "", "Kibana index pattern ID; links to Kibana discover instead of the platform log page.")
	flag.String("logs-url", "", "Base URL for links to remote build logs.")
	flag.String("otel-collector-endpoint", "", "OpenTelemetry collector endpoint. Traces are not exported when empty.")
	flag.Duration("poll-interval", convergence.DefaultPollInterval, "Time between instance count snapshots.")
	flag.String("pushgateway-url", "", "Prometheus Pushgateway to push metrics to when finished.")
	flag.Bool("quiet", false, "Suppress printing of informational messages except errors.")
	flag.Duration("request-timeout", convergence.DefaultRequestTimeout, "Timeout for a single snapshot request.")
	flag.Bool("retry", true, "Retry when encountering transient errors.")
	flag.Duration("retry-interval", DefaultRetryInterval, "Time between retries.")
	flag.StringSlice("scale", []string{}, "Region constraint in the form REGION=MIN[:MAX], MAX may be 'auto'. Can be specified multiple times.")
	flag.String("scale-file", "", "YAML or JSON file with a 'scale' section of region constraints.")
	flag.Duration("scale-timeout", convergence.DefaultDeadline, "Time to wait for all regions to reach the desired scale.")
	flag.String("team", "", "Team that owns the deployment.")
	flag.Duration("timeout", DefaultTimeout, "Upper bound for the whole run.")
	flag.String("token", "", "Platform API token.")
	flag.Bool("verify-only", false, "In scale mode, only verify; do not submit the constraints.")
}

// NewConfig returns a configuration with default values, for use without flags.
func NewConfig() *Config {
	return &Config{
		APIURL:         platform.DefaultURL,
		Follow:         true,
		LogFormat:      "text",
		PollInterval:   convergence.DefaultPollInterval,
		RequestTimeout: convergence.DefaultRequestTimeout,
		Retry:          true,
		RetryInterval:  DefaultRetryInterval,
		ScaleTimeout:   convergence.DefaultDeadline,
		Timeout:        DefaultTimeout,
	}
}

func (cfg *Config) Validate() error {
	switch cfg.Mode {
	case ModeBuild, ModeScale, ModeDeploy:
	case "":
		return ErrModeRequired
	default:
		return fmt.Errorf("unknown mode %q; %w", cfg.Mode, ErrModeRequired)
	}

	if len(cfg.Deployment) == 0 {
		return ErrDeploymentRequired
	}

	if len(cfg.Token) == 0 {
		return ErrTokenRequired
	}

	if expiry, ok := tokenExpiry(cfg.Token); ok && expiry.Before(time.Now()) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, expiry.Local())
	}

	if cfg.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	constraints, err := cfg.loadConstraints()
	if err != nil {
		return err
	}
	cfg.Constraints = constraints

	if cfg.Mode == ModeScale && len(cfg.Constraints) == 0 {
		return ErrConstraintsRequired
	}

	return nil
}

func (cfg *Config) loadConstraints() (scale.Constraints, error) {
	constraints := make(scale.Constraints)

	if len(cfg.ScaleFile) > 0 {
		fromFile, err := scale.LoadFile(cfg.ScaleFile)
		if err != nil {
			return nil, err
		}
		constraints = fromFile
	}

	if len(cfg.Scale) > 0 {
		fromFlags, err := scale.ParseConstraints(cfg.Scale)
		if err != nil {
			return nil, err
		}
		constraints = scale.Merge(constraints, fromFlags)
	}

	return constraints, nil
}

// tokenExpiry returns the expiry of a JWT token. Opaque tokens have no known expiry.
func tokenExpiry(token string) (time.Time, bool) {
	parsed, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return time.Time{}, false
	}
	expiry := parsed.Expiration()
	return expiry, !expiry.IsZero()
}
