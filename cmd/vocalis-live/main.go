// Command vocalis-live runs an interactive voice session against a Vocalis
// server: microphone in, assistant audio out, transcripts on stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
	vocalis "github.com/vocalis-ai/vocalis-go/sdk"
)

const defaultResponderModel = "gpt-4o-mini"

type options struct {
	ConfigFile  string
	ServerURL   string
	TenantID    string
	TenantName  string
	AuthToken   string
	Debug       bool
	UseFFmpeg   bool
	MetricsAddr string
	OpenAIKey   string
	OpenAIModel string
}

// fileOptions mirrors the YAML config file. File values fill fields that
// flags and environment variables left empty.
type fileOptions struct {
	ServerURL  string `yaml:"server_url"`
	TenantID   string `yaml:"tenant_id"`
	TenantName string `yaml:"tenant_name"`
	AuthToken  string `yaml:"auth_token"`
	Debug      bool   `yaml:"debug"`
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	opts := options{}
	fs := flag.NewFlagSet("vocalis-live", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigFile, "config", "", "optional YAML config file")
	fs.StringVar(&opts.ServerURL, "url", strings.TrimSpace(getenv("VOCALIS_URL")), "voice server WebSocket URL (or VOCALIS_URL)")
	fs.StringVar(&opts.TenantID, "tenant-id", strings.TrimSpace(getenv("VOCALIS_TENANT_ID")), "tenant identifier (or VOCALIS_TENANT_ID)")
	fs.StringVar(&opts.TenantName, "tenant-name", strings.TrimSpace(getenv("VOCALIS_TENANT_NAME")), "tenant display name (or VOCALIS_TENANT_NAME)")
	fs.StringVar(&opts.AuthToken, "auth-token", strings.TrimSpace(getenv("VOCALIS_AUTH_TOKEN")), "bearer token (or VOCALIS_AUTH_TOKEN)")
	fs.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	fs.BoolVar(&opts.UseFFmpeg, "ffmpeg", false, "use ffmpeg/ffplay instead of native audio devices")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	fs.StringVar(&opts.OpenAIModel, "responder-model", defaultResponderModel, "model used to answer delegated questions")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.OpenAIKey = strings.TrimSpace(getenv("OPENAI_API_KEY"))

	if opts.ConfigFile != "" {
		if err := applyFileOptions(&opts); err != nil {
			return options{}, err
		}
	}
	if err := validateOptions(opts); err != nil {
		return options{}, err
	}
	return opts, nil
}

func applyFileOptions(opts *options) error {
	data, err := os.ReadFile(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileOptions
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", opts.ConfigFile, err)
	}

	if opts.ServerURL == "" {
		opts.ServerURL = strings.TrimSpace(file.ServerURL)
	}
	if opts.TenantID == "" {
		opts.TenantID = strings.TrimSpace(file.TenantID)
	}
	if opts.TenantName == "" {
		opts.TenantName = strings.TrimSpace(file.TenantName)
	}
	if opts.AuthToken == "" {
		opts.AuthToken = strings.TrimSpace(file.AuthToken)
	}
	if file.Debug {
		opts.Debug = true
	}
	return nil
}

func validateOptions(opts options) error {
	if strings.TrimSpace(opts.ServerURL) == "" {
		return errors.New("server URL is required (set --url or VOCALIS_URL)")
	}
	if strings.TrimSpace(opts.TenantID) == "" {
		return errors.New("tenant ID is required (set --tenant-id or VOCALIS_TENANT_ID)")
	}
	return nil
}

func newLogger(debug bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runLive(ctx context.Context, opts options, in io.Reader, out, errOut io.Writer) error {
	logger := newLogger(opts.Debug, errOut)

	cfg := vocalis.DefaultConfig()
	cfg.ServerURL = opts.ServerURL
	cfg.TenantID = opts.TenantID
	cfg.TenantName = opts.TenantName
	cfg.AuthToken = opts.AuthToken
	cfg.Debug = opts.Debug
	cfg.Logger = logger

	source, sink := buildDevices(opts, audio.Format{
		SampleRate:    cfg.InputSampleRateHz,
		Channels:      cfg.Channels,
		BitsPerSample: cfg.BitsPerSample,
	})
	meter := newMeteredSource(source)
	cfg.Source = meter
	cfg.Sink = sink

	client, err := vocalis.New(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", client.Metrics().Handler())
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("metrics server listening", "addr", opts.MetricsAddr)
	}

	var responder *llmResponder
	if opts.OpenAIKey != "" {
		responder = newLLMResponder(opts.OpenAIKey, opts.OpenAIModel)
	}

	fmt.Fprintf(out, "Vocalis live session %s -> %s\n", client.SessionID(), opts.ServerURL)
	fmt.Fprintln(out, "Commands: /chat <text>, /interrupt, /status, /quit. Bare text is sent as chat.")

	go consumeEvents(client, responder, out, errOut)
	client.Connect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			quit, err := handleCommand(client, meter, line, out, errOut)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// handleCommand executes one REPL line. It reports whether the session
// should end.
func handleCommand(client *vocalis.Client, meter *meteredSource, line string, out, errOut io.Writer) (bool, error) {
	switch {
	case line == "/quit" || line == "/exit":
		fmt.Fprintln(out, "bye")
		return true, nil

	case line == "/interrupt":
		client.ClearAudioQueue()
		fmt.Fprintln(out, "[audio] playback queue cleared")
		return false, nil

	case line == "/status":
		fmt.Fprintln(out, statusLine(client, meter))
		return false, nil

	case line == "/chat" || strings.HasPrefix(line, "/chat "):
		text := strings.TrimSpace(strings.TrimPrefix(line, "/chat"))
		if text == "" {
			fmt.Fprintln(errOut, "usage: /chat <text>")
			return false, nil
		}
		if err := client.SendChatMessage(text); err != nil {
			fmt.Fprintf(errOut, "[chat] %v\n", err)
		}
		return false, nil

	case strings.HasPrefix(line, "/"):
		fmt.Fprintf(errOut, "unknown command %q\n", line)
		return false, nil

	default:
		if err := client.SendChatMessage(line); err != nil {
			fmt.Fprintf(errOut, "[chat] %v\n", err)
		}
		return false, nil
	}
}

func statusLine(client *vocalis.Client, meter *meteredSource) string {
	line := fmt.Sprintf("state=%s streaming=%v buffered=%dms played=%dms",
		client.State(), client.IsStreaming(), client.BufferedMs(), client.PlayedMs())
	if meter != nil {
		line += fmt.Sprintf(" mic=%.3f", meter.Level())
	}
	return line
}

// consumeEvents prints the session's event stream until the client closes.
// Audio streaming starts on every (re)connect; StartAudioStreaming is
// idempotent while capturing.
func consumeEvents(client *vocalis.Client, responder *llmResponder, out, errOut io.Writer) {
	for ev := range client.Events() {
		switch ev := ev.(type) {
		case vocalis.ConnectedEvent:
			fmt.Fprintln(out, "[session] connected")
			if err := client.StartAudioStreaming(); err != nil {
				fmt.Fprintf(errOut, "[audio] %v\n", err)
			}

		case vocalis.DisconnectedEvent:
			fmt.Fprintf(out, "[session] disconnected (%s)\n", ev.Reason)

		case vocalis.ReconnectingEvent:
			fmt.Fprintf(out, "[session] reconnecting, attempt %d in %s\n", ev.Attempt, ev.Delay)

		case vocalis.ReadyEvent:
			fmt.Fprintln(out, "[session] ready")

		case vocalis.TranscriptEvent:
			if ev.IsFinal {
				fmt.Fprintf(out, "you: %s\n", ev.Text)
			} else {
				fmt.Fprintf(out, "you (partial): %s\n", ev.Text)
			}

		case vocalis.AssistantMessageEvent:
			fmt.Fprintf(out, "assistant: %s\n", ev.Text)

		case vocalis.FillerStartedEvent:
			fmt.Fprintln(out, "[assistant] thinking...")

		case vocalis.InterruptEvent:
			fmt.Fprintln(out, "[assistant] interrupted")

		case vocalis.LlmRequiredEvent:
			if responder == nil {
				fmt.Fprintf(errOut, "[llm] server delegated a question but OPENAI_API_KEY is not set: %s\n", ev.Question)
				continue
			}
			go answerDelegated(client, responder, ev.Question, errOut)

		case vocalis.DiagnosticEvent:
			fmt.Fprintf(errOut, "[server] %s: %s\n", ev.Code, ev.Message)

		case vocalis.MessageEvent:
			fmt.Fprintf(out, "server: %s\n", ev.Text)

		case vocalis.ErrorEvent:
			fmt.Fprintf(errOut, "[error] %s: %s\n", ev.Err.Kind, ev.Err.Message)
		}
	}
}

func answerDelegated(client *vocalis.Client, responder *llmResponder, question string, errOut io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	answer, err := responder.Answer(ctx, question)
	if err != nil {
		fmt.Fprintf(errOut, "[llm] answering %q failed: %v\n", question, err)
		return
	}
	if err := client.SendLlmResponse(answer); err != nil {
		fmt.Fprintf(errOut, "[llm] sending answer failed: %v\n", err)
	}
}

func runMain() int {
	_ = godotenv.Load()

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "vocalis-live: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runLive(ctx, opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "vocalis-live: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain())
}
