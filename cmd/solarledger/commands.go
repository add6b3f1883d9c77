package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"codeberg.org/mutker/solarledger/internal/config"
	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/faucet"
	"codeberg.org/mutker/solarledger/internal/ledger"
	"codeberg.org/mutker/solarledger/internal/logger"
	"codeberg.org/mutker/solarledger/internal/metrics"
	"codeberg.org/mutker/solarledger/internal/registry"
	"codeberg.org/mutker/solarledger/internal/telemetry"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "solarledger",
		Short:         "Register solar cell telemetry as tamper-evident ledger records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(config.WithFlags(cmd.Flags()))
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
				return err
			}
			logger.Debug().Msg("Config loaded")
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newRegisterCommand(),
		newVerifyCommand(),
		newShowCommand(),
		newFaucetCommand(),
		newRunCommand(),
	)

	return root
}

// app holds the collaborators shared by the protocol commands.
type app struct {
	source    *telemetry.ThingSpeak
	deriver   *derive.Deriver
	store     *ledger.SQLiteStore
	collector metrics.Collector
}

func newApp(ctx context.Context, withSource bool) (*app, error) {
	a := &app{}

	deriver, err := derive.New(cfg.DeriveConfig())
	if err != nil {
		return nil, err
	}
	a.deriver = deriver

	if withSource {
		a.source, err = telemetry.NewThingSpeak(cfg.TelemetryConfig(), nil, logger.Default())
		if err != nil {
			return nil, err
		}
	}

	a.collector, err = metrics.NewService(cfg.MetricsConfig())
	if err != nil {
		return nil, err
	}

	a.store, err = ledger.NewSQLiteStore(ctx, cfg.LedgerConfig(), logger.Default())
	if err != nil {
		a.collector.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) registrar() *registry.Registrar {
	return registry.NewRegistrar(a.source, a.deriver, a.store, cfg.Telemetry.Field,
		registry.WithLogger(logger.Default()),
		registry.WithMetrics(a.collector),
	)
}

func (a *app) verifier() *registry.Verifier {
	var source telemetry.Source
	if a.source != nil {
		source = a.source
	}
	return registry.NewVerifier(a.store, source, a.deriver, cfg.Telemetry.Field,
		registry.WithLogger(logger.Default()),
		registry.WithMetrics(a.collector),
	)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close ledger store")
	}
	if err := a.collector.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close metrics collector")
	}
}

func newRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Fetch the latest reading and commit it to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.registrar().Register(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newVerifyCommand() *cobra.Command {
	var (
		expected string
		live     bool
	)

	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Check a record against its payload and, optionally, a current fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if live && expected != "" {
				return errors.New().WithMessage(errors.ErrInvalidArgument, "--live and --expected are mutually exclusive")
			}

			var external *derive.Fingerprint
			if expected != "" {
				fp, err := derive.ParseFingerprint(expected)
				if err != nil {
					return err
				}
				external = &fp
			}

			a, err := newApp(cmd.Context(), live)
			if err != nil {
				return err
			}
			defer a.Close()

			id := ledger.RecordID(args[0])
			var res registry.Result
			if live {
				res, err = a.verifier().VerifyLive(cmd.Context(), id)
			} else {
				res, err = a.verifier().Verify(cmd.Context(), id, external)
			}
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), res)
			return res.Err()
		},
	}
	cmd.Flags().StringVar(&expected, "expected", "", "Fingerprint to compare against the stored one (0x-prefixed hex)")
	cmd.Flags().BoolVar(&live, "live", false, "Compare against a fingerprint of the sensor's current reading")

	return cmd
}

func printResult(w io.Writer, res registry.Result) {
	fmt.Fprintf(w, "record:      %s\n", res.RecordID)
	fmt.Fprintf(w, "stored:      %s\n", res.ExpectedFingerprint)
	fmt.Fprintf(w, "recomputed:  %s\n", res.ActualFingerprint)
	fmt.Fprintf(w, "integrity:   %s\n", verdict(res.Matched, "ok", "MISMATCH"))
	if res.DriftChecked() {
		fmt.Fprintf(w, "external:    %s\n", res.External)
		fmt.Fprintf(w, "drift:       %s\n", verdict(!res.Drifted, "none", "DRIFTED"))
	}
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a committed record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.Get(cmd.Context(), ledger.RecordID(args[0]))
			if err != nil {
				return err
			}

			out := struct {
				ID            string          `json:"id"`
				Fingerprint   string          `json:"fingerprint"`
				Metric        float64         `json:"metric"`
				RawFieldValue string          `json:"raw_field_value"`
				CommittedAt   string          `json:"committed_at"`
				Payload       json.RawMessage `json:"payload"`
			}{
				ID:            rec.ID.String(),
				Fingerprint:   rec.Fingerprint.String(),
				Metric:        rec.Metric,
				RawFieldValue: rec.RawFieldValue,
				CommittedAt:   rec.CommittedAt.Format(time.RFC3339),
				Payload:       rec.Payload,
			}
			if !json.Valid(rec.Payload) {
				out.Payload = nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newFaucetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "faucet [address]",
		Short: "Request test funds for the ledger account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := faucet.New(cfg.FaucetConfig(), nil, logger.Default())
			if err != nil {
				return err
			}

			var address string
			if len(args) == 1 {
				address = args[0]
			}

			grant, err := client.Request(cmd.Context(), address)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "funded %s: %s\n", grant.Address, grant.URL)
			return nil
		},
	}
}
