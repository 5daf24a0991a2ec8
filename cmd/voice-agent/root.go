package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codervipul775/voice-agent/pkg/history"
	voice "github.com/codervipul775/voice-agent/sdk"
)

const playbackSampleRateHz = 24000

type cliConfig struct {
	Endpoint   string
	SessionID  string
	Mode       string
	HistoryDSN string
	Debug      bool
}

func newRootCmd() *cobra.Command {
	var cfg cliConfig

	cmd := &cobra.Command{
		Use:   "voice-agent",
		Short: "Real-time voice conversation client",
		Long: `voice-agent connects to the conversational backend, streams
microphone audio, plays synthesized replies and supports barge-in:
speak while the assistant is talking to cut it off.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", "", "websocket endpoint base (or VOICE_AGENT_ENDPOINT)")
	cmd.Flags().StringVar(&cfg.SessionID, "session", "", "session id (default: new UUID)")
	cmd.Flags().StringVar(&cfg.Mode, "mode", "vad", "capture mode: ptt or vad")
	cmd.Flags().StringVar(&cfg.HistoryDSN, "history-dsn", "", "optional Postgres DSN for caption history (or VOICE_AGENT_HISTORY_DSN)")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "verbose logging")
	return cmd
}

func resolveConfig(cfg *cliConfig) error {
	_ = godotenv.Load()

	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("VOICE_AGENT_ENDPOINT")
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("endpoint is required (set --endpoint or VOICE_AGENT_ENDPOINT)")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	if cfg.HistoryDSN == "" {
		cfg.HistoryDSN = os.Getenv("VOICE_AGENT_HISTORY_DSN")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	switch cfg.Mode {
	case "ptt", "vad":
	default:
		return fmt.Errorf("mode must be ptt or vad, got %q", cfg.Mode)
	}
	return nil
}

func run(ctx context.Context, cfg cliConfig) error {
	if err := resolveConfig(&cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := voice.NewMalgoDevice()
	if err != nil {
		return err
	}
	defer device.Close()

	sink, err := voice.NewOtoSink(playbackSampleRateHz, 1)
	if err != nil {
		return err
	}

	queue := voice.NewPlaybackQueue(sink, logger)
	session := voice.NewSession(voice.SessionOptions{Endpoint: cfg.Endpoint}, queue, logger)

	// Capture and barge-in detection each hold their own lease and open
	// their own device stream; the platform context supports concurrent
	// capture handles, so the detector can sample while recording runs.
	engine := voice.NewCaptureEngine(device, nil, session, voice.CaptureOptions{}, logger)
	if cfg.Mode == "vad" {
		if err := engine.ToggleMode(); err != nil {
			return err
		}
	}

	detector := voice.NewInterruptDetector(device, nil, voice.InterruptOptions{}, func() {
		queue.Stop()
		if err := session.SendInterrupt(); err != nil {
			logger.Warn("interrupt not sent", zap.Error(err))
		}
	}, logger)

	// Barge-in monitoring runs exactly while the assistant is speaking.
	session.SetStateListener(func(state voice.VoiceState) {
		if state == voice.StateSpeaking {
			if err := detector.StartMonitoring(ctx); err != nil {
				logger.Warn("interrupt monitoring unavailable", zap.Error(err))
			}
			return
		}
		detector.StopMonitoring()
	})

	var store *history.Store
	if cfg.HistoryDSN != "" {
		store, err = history.Open(ctx, cfg.HistoryDSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.CreateSession(ctx, cfg.SessionID); err != nil {
			logger.Warn("session not recorded", zap.Error(err))
		}
	}

	if err := session.Connect(ctx, cfg.SessionID); err != nil {
		return err
	}

	fmt.Printf("Connected to %s (session %s, %s mode). Ctrl-C to quit.\n",
		cfg.Endpoint, cfg.SessionID, cfg.Mode)

	switch cfg.Mode {
	case "vad":
		if err := engine.StartRecording(ctx); err != nil {
			logger.Warn("microphone unavailable", zap.Error(err))
		}
	case "ptt":
		fmt.Println("Push-to-talk: press Enter to start recording, Enter again to send.")
		go pttLoop(ctx, os.Stdin, engine, logger)
	}

	printEvents(ctx, session, store, cfg.SessionID, logger)

	// Teardown: any order is safe, every path releases its device handles.
	engine.Cleanup()
	detector.StopMonitoring()
	queue.Stop()
	session.Disconnect()
	if store != nil {
		endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.EndSession(endCtx, cfg.SessionID); err != nil {
			logger.Warn("session end not recorded", zap.Error(err))
		}
	}
	return nil
}

// recordToggler is the slice of the capture engine the push-to-talk
// loop drives.
type recordToggler interface {
	Recording() bool
	StartRecording(ctx context.Context) error
	StopRecording()
}

// pttLoop toggles recording on each input line: one Enter starts the
// utterance, the next stops it, which sends the buffered audio.
func pttLoop(ctx context.Context, in io.Reader, rec recordToggler, logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if rec.Recording() {
			rec.StopRecording()
			fmt.Println("(utterance sent)")
			continue
		}
		if err := rec.StartRecording(ctx); err != nil {
			logger.Warn("microphone unavailable", zap.Error(err))
			continue
		}
		fmt.Println("(recording)")
	}
}

func printEvents(ctx context.Context, session *voice.Session, store *history.Store, sessionID string, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case voice.StateEvent:
				fmt.Printf("\r[%s]\n", e.State)
			case voice.CaptionEvent:
				marker := ""
				if !e.Caption.IsFinal {
					marker = " …"
				}
				fmt.Printf("%s: %s%s\n", e.Caption.Speaker, e.Caption.Text, marker)
				if store != nil {
					if err := store.SaveCaption(ctx, sessionID, e.Caption); err != nil {
						logger.Warn("caption not persisted", zap.Error(err))
					}
				}
			case voice.InterimEvent:
				fmt.Printf("\r… %s", e.Text)
			case voice.NoticeEvent:
				fmt.Printf("(%s) %s\n", e.Severity, e.Message)
				if e.Severity == voice.NoticeFatal {
					return
				}
			case voice.MetricsEvent:
				logger.Debug("audio metrics",
					zap.Float64("rms", e.Metrics.RMS),
					zap.Float64("snr_db", e.Metrics.SNRDB),
					zap.String("quality", e.Metrics.QualityLabel))
			case voice.VADEvent:
				logger.Debug("vad status",
					zap.Bool("is_speech", e.Status.IsSpeech),
					zap.Bool("speech_ended", e.Status.SpeechEnded))
			}
		}
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
