package deployclient

import (
	"bytes"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

type ActionsFormatter struct{}

func SetupLogging(cfg Config) {
	log.SetOutput(os.Stderr)

	switch {
	case cfg.Actions:
		log.SetFormatter(&ActionsFormatter{})
	case cfg.LogFormat == "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			DisableLevelTruncation: true,
		})
	}

	if cfg.Quiet {
		log.SetLevel(log.ErrorLevel)
	} else if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
}

func (a *ActionsFormatter) Format(e *log.Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	switch e.Level {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		buf.WriteString("::error::")
	case log.WarnLevel:
		buf.WriteString("::warning::")
	case log.DebugLevel, log.TraceLevel:
		buf.WriteString("::debug::")
	default:
		buf.WriteString("[")
		buf.WriteString(e.Time.Format(time.RFC3339Nano))
		buf.WriteString("] ")
	}
	buf.WriteString(e.Message)
	buf.WriteRune('\n')
	return buf.Bytes(), nil
}
