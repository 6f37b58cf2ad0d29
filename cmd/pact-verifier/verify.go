package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/configuration"
	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	"github.com/form3tech-oss/pact-verifier/internal/app/report"
	"github.com/form3tech-oss/pact-verifier/internal/app/verifier"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const waitDelay = 500 * time.Millisecond

var errVerificationFailed = errors.New("verification failed")

var verifyFlags struct {
	statesURL   string
	timeout     time.Duration
	concurrency int
	isolated    bool
	format      string
	wait        time.Duration
}

var verifyCmd = &cobra.Command{
	Use:   "verify <contract-file>... <provider-url>",
	Short: "Replay every interaction of the contract documents against a provider",
	Long: `Replay every interaction of the contract documents against a provider.

The last argument is the provider base URL unless PROVIDER_URL is set and the
last argument is not a URL. Exits non-zero when any document fails to load or
any interaction does not pass.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("provider-states-setup-url") {
			config.ProviderStatesSetupURL = verifyFlags.statesURL
		}
		if flags.Changed("timeout") {
			config.RequestTimeout = verifyFlags.timeout
		}
		if flags.Changed("concurrency") {
			config.Concurrency = verifyFlags.concurrency
		}
		if flags.Changed("isolated") {
			config.IsolatedProvider = verifyFlags.isolated
		}
		if flags.Changed("format") {
			config.ReportFormat = verifyFlags.format
		}
		if flags.Changed("wait") {
			config.WaitForProvider = verifyFlags.wait
		}

		files, providerURL, err := splitArgs(args, config.ProviderURL)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		success, err := runVerify(ctx, config, files, providerURL, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if !success {
			return errVerificationFailed
		}
		return nil
	},
}

func init() {
	flags := verifyCmd.Flags()
	flags.StringVar(&verifyFlags.statesURL, "provider-states-setup-url", "", "URL receiving provider state changes (env PROVIDER_STATES_SETUP_URL)")
	flags.DurationVar(&verifyFlags.timeout, "timeout", verifier.DefaultTimeout, "Timeout of each interaction (env REQUEST_TIMEOUT)")
	flags.IntVar(&verifyFlags.concurrency, "concurrency", 4, "Interactions verified at once (env CONCURRENCY)")
	flags.BoolVar(&verifyFlags.isolated, "isolated", false, "Provider isolates every request, replays need not be serialized (env ISOLATED_PROVIDER)")
	flags.StringVar(&verifyFlags.format, "format", string(report.FormatText), "Report format: text, json or yaml (env REPORT_FORMAT)")
	flags.DurationVar(&verifyFlags.wait, "wait", 0, "Wait up to this long for the provider to answer (env WAIT_FOR_PROVIDER)")
	rootCmd.AddCommand(verifyCmd)
}

// splitArgs separates contract files from the provider URL.
func splitArgs(args []string, envProviderURL string) ([]string, string, error) {
	last := args[len(args)-1]
	if isProviderURL(last) {
		if len(args) < 2 {
			return nil, "", errors.New("at least one contract file is required")
		}
		return args[:len(args)-1], last, nil
	}
	if envProviderURL == "" {
		return nil, "", errors.Errorf("the last argument must be the provider url, got %q", last)
	}
	return args, envProviderURL, nil
}

func isProviderURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// runVerify verifies every document and writes one report per document. A
// document that fails to load is reported and does not stop the others.
func runVerify(ctx context.Context, config configuration.Config, files []string, providerURL string, out io.Writer) (bool, error) {
	format, err := report.ParseFormat(config.ReportFormat)
	if err != nil {
		return false, err
	}

	fields := log.Fields{"run_id": uuid.NewString(), "provider_url": providerURL}
	client := &http.Client{}
	transport, err := verifier.NewHTTPTransport(providerURL, client)
	if err != nil {
		return false, err
	}
	if err := verifier.WaitForProvider(ctx, transport, config.WaitForProvider, waitDelay); err != nil {
		return false, err
	}

	success := true
	for _, file := range files {
		logger := log.WithFields(fields).WithField("file", file)

		doc, err := loadDocument(file)
		if err != nil {
			logger.Error(err)
			fmt.Fprintf(out, "%s: %v\n", file, err)
			success = false
			continue
		}

		var states verifier.StateRegistry
		if config.ProviderStatesSetupURL != "" {
			states = verifier.RemoteStates{URL: config.ProviderStatesSetupURL, Consumer: doc.Consumer, Client: client}
		}

		v := verifier.New(transport, states, verifier.Options{
			Timeout:     config.RequestTimeout,
			Concurrency: config.Concurrency,
			Isolated:    config.IsolatedProvider,
			Fields:      fields,
		})
		r := report.Aggregate(v.VerifyDocument(ctx, doc))
		r.Consumer, r.Provider = doc.Consumer, doc.Provider
		logger.Info(r.Summary())

		if err := report.Write(out, format, r); err != nil {
			return false, err
		}
		success = success && r.Success
	}
	return success, nil
}

func loadDocument(file string) (contract.Document, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return contract.Document{}, errors.Wrap(err, "unable to read contract document")
	}
	return contract.Decode(data)
}
