package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/dropwatch/internal/apperr"
	"github.com/dharsanguruparan/dropwatch/internal/bus"
	"github.com/dharsanguruparan/dropwatch/internal/config"
	"github.com/dharsanguruparan/dropwatch/internal/identity"
	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/model"
	"github.com/dharsanguruparan/dropwatch/internal/signing"
	"github.com/dharsanguruparan/dropwatch/internal/upload"
	"github.com/dharsanguruparan/dropwatch/internal/webhook"
	"github.com/dharsanguruparan/dropwatch/internal/widget"
)

var (
	envFiles []string
	debug    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dropwatch: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dropwatch",
		Short: "Upload files and follow the processing job they trigger",
		Long: `dropwatch uploads files through presigned URLs, finds the job the storage trigger
created for them, and follows that job until a result or an error is available.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files to load before reading WIDGET_* variables (default .env)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.AddCommand(
		newUploadCmd(),
		newLocateCmd(),
		newPollCmd(),
		newCreditsCmd(),
		newWhoamiCmd(),
	)
	return cmd
}

// setup loads configuration and builds the shared stack.
func setup(ctx context.Context) (*stack, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	// stdout carries the command output, so every log level goes to stderr.
	log := logger.New(debug || cfg.Debug, logger.WithInfoOutput(os.Stderr))
	s, err := newStack(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = log.Sync() })
	return s, nil
}

func newUploadCmd() *cobra.Command {
	var natsURL string
	var webhookAddr string
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files and wait for the processing result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			blobs := make([]upload.FileBlob, 0, len(args))
			for _, path := range args {
				blob, err := upload.FromPath(path)
				if err != nil {
					return err
				}
				blobs = append(blobs, blob)
			}

			s, err := setup(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			client, err := s.uploader(ctx)
			if err != nil {
				return err
			}
			t := s.cfg.Timing
			w := widget.New(widget.Options{
				UserID:           s.anonID,
				WidgetID:         s.cfg.WidgetID,
				PropagationDelay: t.PropagationDelay,
				RelocateDelay:    t.RelocateDelay,
			}, widget.Deps{
				Uploader: client,
				Locator:  s.locator(),
				Poller:   s.poller(),
				UI:       newPrinter(cmd.OutOrStdout()),
				Logger:   s.log.Named("widget"),
			})
			defer w.Close()

			if natsURL == "" {
				natsURL = s.cfg.NATSURL
			}
			if natsURL != "" {
				bc, err := bus.Connect(natsURL, s.log.Named("bus"))
				if err != nil {
					return err
				}
				defer bc.Close()
				if _, err := bc.SubscribeResults(s.cfg.ResultSubject, w); err != nil {
					return err
				}
			}

			if webhookAddr == "" {
				webhookAddr = s.cfg.WebhookAddress
			}
			if webhookAddr != "" {
				srv := webhook.New(webhookAddr, signing.NewSigner(s.cfg.WebhookSecret), w, s.log.Named("webhook"))
				stop := runInBackground(ctx, srv, s.log.Named("webhook"))
				defer stop()
			}

			if err := w.HandleFiles(ctx, blobs); err != nil {
				if errors.Is(err, context.Canceled) {
					return errors.New("interrupted")
				}
				return errors.New("no result")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "listen-nats", "", "NATS URL to receive pushed results on (overrides WIDGET_NATS_URL)")
	cmd.Flags().StringVar(&webhookAddr, "webhook-addr", "", "Address for the result webhook receiver, e.g. :8085 (overrides WIDGET_WEBHOOK_ADDRESS)")
	return cmd
}

func newLocateCmd() *cobra.Command {
	var completedAt string
	cmd := &cobra.Command{
		Use:   "locate KEY...",
		Short: "Find the job created for already uploaded storage keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			at := time.Now()
			if completedAt != "" {
				parsed, err := time.Parse(time.RFC3339, completedAt)
				if err != nil {
					return fmt.Errorf("--completed-at: %w", err)
				}
				at = parsed
			}
			s, err := setup(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			batch := make([]model.UploadedFile, 0, len(args))
			for _, key := range args {
				batch = append(batch, model.UploadedFile{StorageKey: key, UploadedAt: at})
			}
			match, ok := s.locator().Locate(ctx, batch, s.anonID, s.cfg.WidgetID)
			if !ok {
				return errors.New("no matching job")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job:      %s\n", match.Job.ID)
			fmt.Fprintf(out, "match:    %s\n", match.Strength)
			fmt.Fprintf(out, "status:   %s\n", match.Job.Status)
			fmt.Fprintf(out, "created:  %s (%s)\n", match.Job.CreatedAt.Format(time.RFC3339), humanize.Time(match.Job.CreatedAt))
			fmt.Fprintf(out, "files:    %s\n", strings.Join(match.Job.FileKeys, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&completedAt, "completed-at", "", "Upload completion time (RFC 3339), defaults to now")
	return cmd
}

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll JOB_ID",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := setup(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			p := newPrinter(cmd.OutOrStdout())
			session := s.poller().Start(ctx, args[0], nil)
			defer session.Cancel()
			for ev := range session.Events() {
				switch {
				case ev.Result != nil:
					p.OnResult(*ev.Result)
					return nil
				case ev.Err != nil:
					p.OnError(apperr.Message(ev.Err))
					return errors.New("no result")
				default:
					p.OnProgress(ev.Progress)
				}
			}
			return ctx.Err()
		},
	}
}

func newCreditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show the credit balance of the anonymous user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := setup(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.rest == nil {
				return errors.New("credits are only available with the rest jobs backend")
			}
			balance, err := s.rest.Credits(ctx, s.anonID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s credits\n", humanize.Commaf(balance))
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the anonymous user id, creating it on first use",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := identity.NewStore(config.IdentityPath())
			id, err := store.Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, store.Path())
			return nil
		},
	}
}
