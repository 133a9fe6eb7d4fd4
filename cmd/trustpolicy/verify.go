package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/trustpolicy"
	"github.com/meigma/trustpolicy/facts"
	"github.com/meigma/trustpolicy/internal/config"
	"github.com/meigma/trustpolicy/verdict"
	"github.com/meigma/trustpolicy/vsa"
)

type verifyFlags struct {
	factsPath    string
	policyPath   string
	reportPath   string
	vsaPath      string
	timeVerified string
	configPath   string
	showPrelude  bool
	verbose      bool

	// Settings shared with the config file.
	settings config.Config
}

func newVerifyCmd() *cobra.Command {
	f := &verifyFlags{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Evaluate a policy against an analysis snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.factsPath, "facts", "", "analysis snapshot (JSON or YAML, optionally .zst)")
	fl.StringVar(&f.policyPath, "policy", "", "policy source file")
	fl.StringVar(&f.reportPath, "report", "", "write the JSON policy report to this file")
	fl.StringVar(&f.vsaPath, "vsa", "", "write a verification summary attestation to this file")
	fl.StringVar(&f.timeVerified, "time", "", "verification time for the attestation (RFC 3339, default now)")
	fl.StringVar(&f.configPath, "config", "", "configuration file")
	fl.BoolVar(&f.showPrelude, "show-prelude", false, "print the built-in prelude before verifying")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")

	fl.StringVar(&f.settings.SigningKey, "signing-key", "", "PEM encoded ed25519 key to sign the attestation with")
	fl.StringVar(&f.settings.CacheDir, "cache-dir", "", "cache reports in this directory")
	fl.StringVar(&f.settings.VerifierID, "verifier-id", "", "verifier id recorded in the attestation")
	fl.IntVar(&f.settings.MaxIterations, "max-iterations", 0, "per-stratum iteration cap (default 10000)")
	fl.IntVar(&f.settings.Workers, "workers", 0, "parallel rule workers per stratum (default GOMAXPROCS)")

	_ = cmd.MarkFlagRequired("facts")
	_ = cmd.MarkFlagRequired("policy")
	return cmd
}

func runVerify(cmd *cobra.Command, f *verifyFlags) error {
	settings := config.Config{}
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		settings = *c
	}
	settings = settings.Merge(f.settings)
	if err := settings.Validate(); err != nil {
		return err
	}

	level, err := settings.Level()
	if err != nil {
		return err
	}
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if f.showPrelude {
		fmt.Fprintln(cmd.OutOrStdout(), trustpolicy.Prelude())
	}

	snap, err := facts.Load(f.factsPath)
	if err != nil {
		return err
	}
	policy, err := os.ReadFile(f.policyPath)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}

	opts := []trustpolicy.Option{
		trustpolicy.WithLogger(logger),
		trustpolicy.WithMaxIterations(settings.MaxIterations),
		trustpolicy.WithWorkers(settings.Workers),
	}
	if settings.VerifierID != "" {
		opts = append(opts, trustpolicy.WithVerifierID(settings.VerifierID))
	}
	if settings.CacheDir != "" {
		opts = append(opts, trustpolicy.WithCacheDir(settings.CacheDir, settings.CacheMaxBytes))
	}
	if settings.SigningKey != "" {
		signer, err := vsa.LoadED25519Key(settings.SigningKey)
		if err != nil {
			return err
		}
		opts = append(opts, trustpolicy.WithSigner(signer))
	}
	e, err := trustpolicy.New(opts...)
	if err != nil {
		return err
	}

	res, err := e.Verify(cmd.Context(), snap, f.policyPath, string(policy))
	if err != nil {
		return err
	}

	if err := res.Report.WriteText(cmd.OutOrStdout()); err != nil {
		return err
	}
	if f.reportPath != "" {
		var buf bytes.Buffer
		if err := res.Report.WriteJSON(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(f.reportPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if f.vsaPath != "" {
		at := time.Now()
		if f.timeVerified != "" {
			at, err = time.Parse(time.RFC3339, f.timeVerified)
			if err != nil {
				return fmt.Errorf("parse --time: %w", err)
			}
		}
		att, err := e.Attest(cmd.Context(), res, string(policy), at, vsa.WithPolicyURI(f.policyPath))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := att.WriteJSON(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(f.vsaPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write attestation: %w", err)
		}
		logger.Info("wrote verification summary",
			slog.String("path", f.vsaPath),
			slog.String("id", att.ID.String()))
	}

	if code := res.Report.ExitCode(); code != verdict.ExitPassed {
		return &exitError{code: code}
	}
	return nil
}
