package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/harunnryd/sttstream/pkg/adapters/transport"
	"github.com/harunnryd/sttstream/pkg/config"
	"github.com/harunnryd/sttstream/pkg/credentials"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/logging"
	"github.com/harunnryd/sttstream/pkg/metrics"
	"github.com/harunnryd/sttstream/pkg/recognizer"
	"github.com/harunnryd/sttstream/pkg/redact"
	"github.com/harunnryd/sttstream/pkg/resilience"
	"github.com/spf13/cobra"
)

// deps swaps the backend in tests. Zero values select Google.
type deps struct {
	dialer   transport.Dialer
	resolver credentials.Resolver
}

type rootFlags struct {
	configFile  string
	envFile     string
	recognizer  string
	credentials string
	endpoint    string
	logLevel    string
	languages   []string
	jsonOutput  bool
}

// app is the state shared by every command once flags and config are loaded.
type app struct {
	deps     deps
	flags    *rootFlags
	cfg      config.Config
	logger   *slog.Logger
	observer metrics.Observer
	closers  []func()
	redactor redact.Redactor
	rawCreds []byte
}

// Execute runs the root command.
func Execute() error {
	return newRootCommand(deps{}).Execute()
}

func newRootCommand(d deps) *cobra.Command {
	flags := &rootFlags{}
	a := &app{deps: d, flags: flags}

	root := &cobra.Command{
		Use:           "sttstream",
		Short:         "Streaming speech recognition against Google Cloud Speech-to-Text v2",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "config file (yaml, json or toml)")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config, ignored when missing")
	pf.StringVar(&flags.recognizer, "recognizer", "", "recognizer resource name")
	pf.StringVar(&flags.credentials, "credentials", "", "service account JSON, defaults to GOOGLE_APPLICATION_CREDENTIALS")
	pf.StringVar(&flags.endpoint, "endpoint", "", "override the regional endpoint")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringSliceVarP(&flags.languages, "language", "l", nil, "language codes, overrides the session config")
	pf.BoolVar(&flags.jsonOutput, "json", false, "print results as protojson lines")

	root.AddCommand(newStreamCommand(a), newRecognizeCommand(a), newServeCommand(a))
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	if err := config.LoadEnvFile(a.flags.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(a.flags.configFile,
		config.Set("recognizer", a.flags.recognizer),
		config.Set("credentials_file", a.flags.credentials),
		config.Set("endpoint", a.flags.endpoint),
		config.Set("log_level", a.flags.logLevel),
	)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.InitLogger(cmd.ErrOrStderr(), logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	a.redactor = redact.New(cfg.Privacy.RedactTranscripts)

	a.observer = metrics.NoopObserver{}
	if cfg.Metrics.Path != "" {
		f, err := os.OpenFile(cfg.Metrics.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics file: %w", err)
		}
		async := metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), cfg.Metrics.Buffer)
		a.observer = async
		a.closers = append(a.closers, func() {
			async.Close()
			_ = f.Close()
		})
	}

	if a.deps.resolver == nil {
		raw, err := credentials.LoadFile(cfg.CredentialsFile)
		if err != nil {
			return err
		}
		a.rawCreds = raw
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// sessionConfig decodes the configured session. languages win over the
// --language flag, which wins over the file.
func (a *app) sessionConfig(languages []string) (recognizer.SessionConfig, error) {
	if len(languages) == 0 {
		languages = a.flags.languages
	}
	return a.cfg.SessionConfig(languages...)
}

func (a *app) options(sc recognizer.SessionConfig) recognizer.Options {
	return recognizer.Options{
		Credentials: a.rawCreds,
		Resolver:    a.deps.resolver,
		Dialer:      a.deps.dialer,
		Endpoint:    a.cfg.Endpoint,
		Recognizer:  a.cfg.Recognizer,
		Config:      sc,
		BufferSize:  a.cfg.BufferSize,
		UserAgent:   "sttstream/" + version,
		Logger:      a.logger,
		Observer:    a.observer,
	}
}

func (a *app) retryPolicy() resilience.RetryPolicy {
	return resilience.NewRetryPolicy(a.cfg.Retry.MaxRetries, time.Duration(a.cfg.Retry.BackoffMS)*time.Millisecond)
}

// openStreaming builds a streaming recognizer, retrying transient dial failures.
func (a *app) openStreaming(ctx context.Context, languages []string) (*recognizer.Recognizer, error) {
	sc, err := a.sessionConfig(languages)
	if err != nil {
		return nil, err
	}
	var rec *recognizer.Recognizer
	err = a.retryPolicy().DoIf(ctx, func() error {
		var err error
		rec, err = recognizer.NewStreaming(ctx, a.options(sc))
		if err != nil {
			a.logger.Warn("session_open_retry", "error", err.Error(), "reason", string(errorsx.Reason(err)))
		}
		return err
	}, errorsx.Retryable)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *app) openSynchronous(ctx context.Context) (*recognizer.Recognizer, error) {
	var rec *recognizer.Recognizer
	err := a.retryPolicy().DoIf(ctx, func() error {
		var err error
		rec, err = recognizer.NewSynchronous(ctx, a.options(recognizer.SessionConfig{}))
		return err
	}, errorsx.Retryable)
	return rec, err
}
