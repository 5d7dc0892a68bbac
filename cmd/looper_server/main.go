package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	looperserver "looper_server"
	"looper_server/backend"
	"looper_server/logging"
	"looper_server/todo"
)

type cli struct {
	v   *viper.Viper
	cfg *looperserver.AppConfig
	log *logrus.Logger
	// closer releases the log file, if any.
	closer io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{v: looperserver.NewViper()}

	root := &cobra.Command{
		Use:          "looper_server",
		Short:        "Todo-list planning agent with sandboxed Python execution",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			looperserver.LoadDotEnv()
			cfg, err := looperserver.LoadAppConfig(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			l, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
			if err != nil {
				return err
			}
			c.log, c.closer = l, closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.closer != nil {
				c.closer.Close()
			}
		},
	}
	if err := looperserver.BindFlags(root, c.v); err != nil {
		panic(err)
	}

	root.AddCommand(c.serveCmd(), c.runCmd(), c.sandboxdCmd(), c.tokenCmd())
	return root
}

func (c *cli) agentFile() (*looperserver.AgentFile, error) {
	if c.cfg.ConfigFile == "" {
		return looperserver.DefaultAgentFile(), nil
	}
	c.log.WithField("path", c.cfg.ConfigFile).Info("loading config")
	return looperserver.LoadAgentFile(c.cfg.ConfigFile)
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.agentFile()
			if err != nil {
				return err
			}
			s := looperserver.New(
				looperserver.WithHost(c.cfg.Host),
				looperserver.WithPort(c.cfg.Port),
				looperserver.WithAgentFile(f),
				looperserver.WithAuthSecret(c.cfg.AuthSecret),
				looperserver.WithLogger(c.log),
			)
			return s.Start(cmd.Context())
		},
	}
}

func (c *cli) runCmd() *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Stream one invocation to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.agentFile()
			if err != nil {
				return err
			}
			s := looperserver.New(
				looperserver.WithAgentFile(f),
				looperserver.WithReportStyle(style),
				looperserver.WithLogger(c.log),
			)
			if err := s.Build(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			for chunk, err := range s.Invoker().Invoke(ctx, args[0]) {
				if err != nil {
					fmt.Fprintln(out)
					return err
				}
				fmt.Fprint(out, chunk)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", todo.StyleANSI, "report style (markup, ansi, plain)")
	return cmd
}

func (c *cli) sandboxdCmd() *cobra.Command {
	var (
		addr      string
		apiKeyEnv string
	)
	cmd := &cobra.Command{
		Use:   "sandboxd",
		Short: "Serve the local Python sandbox over the executeCode protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.agentFile()
			if err != nil {
				return err
			}
			if f.Sandbox.Type == "remote" {
				return errors.New("sandboxd cannot serve a remote sandbox")
			}
			sb, err := backend.New(f.Sandbox, c.log)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:        addr,
				Handler:     backend.NewServer(sb, os.Getenv(apiKeyEnv), c.log).Router(),
				ReadTimeout: 30 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			c.log.WithFields(logrus.Fields{"addr": addr, "sandbox": sb.ID()}).Info("sandboxd starting")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "0.0.0.0:9090", "listen address")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "SANDBOX_API_KEY", "env var holding the required bearer key")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token signed with --auth-secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.AuthSecret == "" {
				return errors.New("auth secret is not configured")
			}
			tok, err := looperserver.IssueToken([]byte(c.cfg.AuthSecret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
