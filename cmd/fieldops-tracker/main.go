package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/common/logger"
	"fieldops/internal/tracker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var opts struct {
	apiURL       string
	userID       string
	teamMemberID string
	replayFile   string
	delay        time.Duration
	minDistance  float64
	minInterval  time.Duration
	timeout      time.Duration
	logLevel     string
}

var rootCmd = &cobra.Command{
	Use:   "fieldops-tracker",
	Short: "Sample device positions and upload them to fieldops-api",
	Long: `Reads positions (JSON Lines, one {"latitude","longitude","accuracy","timestamp"}
object per line) from a file or stdin, drops samples closer than --min-distance
to the last accepted one or newer than --min-interval, and posts the rest to
POST /team-locations as --user.

Examples:
  fieldops-tracker --api http://localhost:8080 --user p-t1 --replay route.jsonl
  gps-reader | fieldops-tracker --api http://localhost:8080 --user p-t1`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.apiURL, "api", "http://localhost:8080", "fieldops-api base URL")
	f.StringVar(&opts.userID, "user", "", "profile id sent as X-User-Id")
	f.StringVar(&opts.teamMemberID, "team-member", "", "team member id (defaults to the caller's own record)")
	f.StringVar(&opts.replayFile, "replay", "-", "JSON Lines position file, - for stdin")
	f.DurationVar(&opts.delay, "delay", 0, "pause between replayed lines")
	f.Float64Var(&opts.minDistance, "min-distance", tracker.DefaultMinDistance, "minimum distance in meters between uploads")
	f.DurationVar(&opts.minInterval, "min-interval", tracker.DefaultMinInterval, "minimum time between uploads, measured on sample timestamps (negative disables)")
	f.DurationVar(&opts.timeout, "timeout", tracker.DefaultUploadTimeout, "per-upload timeout")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn, error")
	_ = rootCmd.MarkFlagRequired("user")
}

func run(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLogger(opts.logLevel, "console", "fieldops-tracker")
	if err != nil {
		return err
	}
	defer log.Sync()

	var in io.Reader = os.Stdin
	if opts.replayFile != "-" {
		f, err := os.Open(opts.replayFile)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	source := tracker.NewReplaySource(in)
	source.Delay = opts.delay

	uploader := tracker.NewHTTPUploader(opts.apiURL, opts.userID, opts.teamMemberID, opts.timeout, log)
	sampler := tracker.NewSampler(source, uploader, tracker.Options{
		MinDistance:   opts.minDistance,
		MinInterval:   opts.minInterval,
		UploadTimeout: opts.timeout,
	}, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sampler.Start(ctx)
	select {
	case <-sampler.Done():
	case <-ctx.Done():
		sampler.Stop()
	}

	st := sampler.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d discarded=%d uploaded=%d upload_errors=%d\n",
		st.Accepted, st.Discarded, st.Uploaded, len(st.UploadErrors))
	for _, ue := range st.UploadErrors {
		log.Warn("Sample not uploaded",
			zap.Time("timestamp", ue.Position.Timestamp),
			zap.Error(ue.Err),
		)
	}
	if st.State == tracker.StateError {
		return fmt.Errorf("tracking stopped: %w", st.LastError)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
