package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-portal/internal/config"
	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository"
	"github.com/jwalitptl/rx-portal/internal/repository/httpclient"
	"github.com/jwalitptl/rx-portal/internal/repository/memory"
	"github.com/jwalitptl/rx-portal/internal/store"
	"github.com/jwalitptl/rx-portal/pkg/logger"
)

const (
	repoHTTP   = "http"
	repoMemory = "memory"
)

type options struct {
	configPath string
	apiURL     string
	repo       string
	seed       string
	timeout    time.Duration
	logLevel   string
}

// session is the state shared by every subcommand of one invocation.
type session struct {
	cfg    *config.Config
	logger *logger.Logger
	store  *store.Store
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	sess := &session{}

	cmd := &cobra.Command{
		Use:   "rxctl",
		Short: "Browse prescriptions and request refills",
		Long: `rxctl talks to the rx-portal API (or an in-memory fixture set) through the
same prescription store the web front-end uses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return sess.open(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (defaults to ./config.yml when present)")
	flags.StringVar(&opts.apiURL, "api-url", "", "Base URL of the rx-portal API")
	flags.StringVar(&opts.repo, "repo", repoHTTP, "Repository backend: http or memory")
	flags.StringVar(&opts.seed, "seed", "", "YAML fixture file for --repo memory")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Request timeout")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")

	cmd.AddCommand(
		newListCmd(sess),
		newShowCmd(sess),
		newRefillCmd(sess),
		newHistoryCmd(sess),
	)
	return cmd
}

func (s *session) open(cmd *cobra.Command, opts *options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.logger = logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(opts.logLevel),
		Output: os.Stderr,
	})

	repo, err := s.repository(cmd, opts)
	if err != nil {
		return err
	}
	s.store = store.New(repo, store.WithLogger(s.logger))
	return nil
}

func (s *session) repository(cmd *cobra.Command, opts *options) (repository.PrescriptionRepository, error) {
	switch opts.repo {
	case repoHTTP:
		apiURL := s.cfg.Client.APIURL
		if cmd.Flags().Changed("api-url") {
			apiURL = opts.apiURL
		}
		timeout := s.cfg.Client.Timeout
		if cmd.Flags().Changed("timeout") {
			timeout = opts.timeout
		}
		return httpclient.New(apiURL, timeout, httpclient.WithLogger(s.logger)), nil

	case repoMemory:
		seedPath := s.cfg.Repository.SeedPath
		if cmd.Flags().Changed("seed") {
			seedPath = opts.seed
		}
		var (
			seed []model.Prescription
			err  error
		)
		if seedPath == "" {
			seed, err = memory.DefaultSeed()
		} else {
			seed, err = memory.LoadSeed(seedPath)
		}
		if err != nil {
			return nil, err
		}
		return memory.NewPrescriptionRepository(seed), nil

	default:
		return nil, fmt.Errorf("unknown repository %q (want %s or %s)", opts.repo, repoHTTP, repoMemory)
	}
}
