package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/nais/deploywatch/pkg/conftools"
	"github.com/nais/deploywatch/pkg/deployclient"
	"github.com/nais/deploywatch/pkg/metrics"
	"github.com/nais/deploywatch/pkg/platform"
	"github.com/nais/deploywatch/pkg/telemetry"
	"github.com/nais/deploywatch/pkg/version"
)

const help = `
deploywatch independently verifies a deployment: it follows the build until it
finishes, and confirms that every region reaches its desired instance count.

Usage: deploywatch [flags] build|scale|deploy
`

var maskedConfig = []string{
	"token",
}

func main() {
	err := run()
	if err == nil {
		return
	}
	code := deployclient.ErrorExitCode(err)
	if code == deployclient.ExitInvocationFailure {
		flag.Usage()
	}
	log.Errorf("fatal: %s", err)
	os.Exit(int(code))
}

func run() error {
	// Configuration
	flag.ErrHelp = fmt.Errorf(help)
	conftools.Initialize("deploywatch")
	deployclient.InitConfig()

	cfg := deployclient.NewConfig()
	err := conftools.Load(cfg)
	if err != nil {
		return deployclient.ErrorWrap(deployclient.ExitInvocationFailure, err)
	}
	cfg.Mode = flag.Arg(0)

	// Logging
	deployclient.SetupLogging(*cfg)

	err = cfg.Validate()
	if err != nil {
		return deployclient.ErrorWrap(deployclient.ExitInvocationFailure, err)
	}

	// Welcome
	log.Infof("deploywatch %s", version.Version())
	ts, err := version.BuildTime()
	if err == nil {
		log.Infof("This version was built %s", ts.Local())
	}

	for _, line := range conftools.Format(maskedConfig) {
		log.Debug(line)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	// Tracing
	tracerProvider, err := telemetry.New(ctx, "deploywatch", cfg.OpenTelemetryCollectorURL)
	if err != nil {
		return deployclient.Errorf(deployclient.ExitInternalError, "set up tracing: %w", err)
	}
	defer func() {
		err := tracerProvider.Shutdown(context.Background())
		if err != nil {
			log.Warnf("flush traces: %s", err)
		}
	}()

	client, err := platform.New(cfg.APIURL, cfg.Token, platform.WithTeam(cfg.Team))
	if err != nil {
		return deployclient.ErrorWrap(deployclient.ExitInvocationFailure, err)
	}

	log.WithFields(log.Fields{
		"deployment_id":  cfg.Deployment,
		"correlation_id": client.CorrelationID(),
		"team":           cfg.Team,
	}).Infof("Verifying deployment %s", cfg.Deployment)

	w := deployclient.Watcher{
		Platform:      client,
		Output:        os.Stdout,
		SummaryPath:   os.Getenv("GITHUB_STEP_SUMMARY"),
		CorrelationID: client.CorrelationID(),
	}

	err = w.Run(ctx, cfg)

	if len(cfg.PushgatewayURL) > 0 {
		pushErr := metrics.Push(context.Background(), cfg.PushgatewayURL, "deploywatch")
		if pushErr != nil {
			log.Warnf("push metrics: %s", pushErr)
		}
	}

	return err
}
