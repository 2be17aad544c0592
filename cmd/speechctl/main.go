package main

import (
	"context"
	"encoding/json"
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

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech/internal/bus"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'speak', 'listen', 'voices', 'languages' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "speak":
		err = runSpeak(os.Args[2:])
	case "listen":
		err = runListen(os.Args[2:])
	case "voices":
		err = runGet(os.Args[2:], "voices", "/api/voices")
	case "languages":
		err = runGet(os.Args[2:], "languages", "/api/languages")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type busFlags struct {
	configPath string
	servers    string
	timeout    time.Duration
}

func (b *busFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&b.configPath, "config", "", "Path to daemon configuration file (for bus settings)")
	fs.StringVar(&b.servers, "servers", "", "Comma separated NATS servers, overrides config")
	fs.DurationVar(&b.timeout, "timeout", 45*time.Second, "How long to wait for the daemon")
}

func (b *busFlags) connect(ctx context.Context) (*bus.Client, error) {
	cfg, err := config.Load(b.configPath)
	if err != nil {
		return nil, err
	}
	if b.servers != "" {
		cfg.Bus.Servers = strings.Split(b.servers, ",")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return bus.Connect(ctx, cfg.Bus, logger)
}

func runSpeak(args []string) error {
	fs := flag.NewFlagSet("speak", flag.ExitOnError)
	var bf busFlags
	bf.register(fs)
	voice := fs.String("voice", "", "Voice id or label")
	language := fs.String("language", "", "Language tag")
	rate := fs.Float64("rate", 1, "Speaking rate (0.1-10)")
	pitch := fs.Float64("pitch", 1, "Pitch (0-2)")
	volume := fs.Float64("volume", 1, "Volume (0-1)")
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("usage: speechctl speak [flags] <text>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), bf.timeout)
	defer cancel()
	client, err := bf.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	req := protocol.SpeakRequest{
		RequestID: uuid.NewString(),
		Text:      text,
		Voice:     *voice,
		Language:  *language,
		Rate:      rate,
		Pitch:     pitch,
		Volume:    volume,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	reply, err := client.Conn().RequestWithContext(ctx, protocol.SubjectOutputRequest, data)
	if err != nil {
		return fmt.Errorf("speak request: %w", err)
	}
	var status protocol.OutputStatus
	if err := json.Unmarshal(reply.Data, &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if status.Error != "" {
		return errors.New(status.Message)
	}
	fmt.Printf("%s %s\n", status.Status, status.SessionID)
	return nil
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	var bf busFlags
	bf.register(fs)
	language := fs.String("language", "", "Language tag")
	continuous := fs.Bool("continuous", false, "Keep listening until interrupted")
	interim := fs.Bool("interim", true, "Print interim results")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, bf.timeout)
	defer cancel()
	client, err := bf.connect(connectCtx)
	if err != nil {
		return err
	}
	defer client.Close()

	requestID := uuid.NewString()
	msgs := make(chan *nats.Msg, 64)
	for _, subject := range []string{protocol.SubjectInputPartial, protocol.SubjectInputFinal, protocol.SubjectInputDone} {
		sub, err := client.Conn().ChanSubscribe(subject, msgs)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		defer sub.Unsubscribe()
	}

	data, _ := json.Marshal(protocol.ListenRequest{RequestID: requestID, Language: *language, Continuous: continuous, Interim: interim})
	if err := client.Conn().Publish(protocol.SubjectInputStart, data); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}

	interrupt := ctx.Done()
	for {
		select {
		case <-interrupt:
			interrupt = nil
			data, _ := json.Marshal(protocol.ListenStop{RequestID: requestID})
			if err := client.Conn().Publish(protocol.SubjectInputStop, data); err != nil {
				return fmt.Errorf("stop listening: %w", err)
			}
		case msg := <-msgs:
			switch msg.Subject {
			case protocol.SubjectInputDone:
				var done protocol.ListenDone
				if err := json.Unmarshal(msg.Data, &done); err != nil || done.RequestID != requestID {
					continue
				}
				if done.Error != "" {
					return errors.New(done.Message)
				}
				fmt.Println(done.Transcript)
				return nil
			default:
				var tr protocol.Transcript
				if err := json.Unmarshal(msg.Data, &tr); err != nil || tr.RequestID != requestID {
					continue
				}
				if tr.Partial {
					fmt.Fprintf(os.Stderr, "[%s]\n", tr.Text)
				} else {
					fmt.Fprintln(os.Stderr, tr.Text)
				}
			}
		}
	}
}

func runGet(args []string, name, path string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Daemon HTTP address")
	fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, err = os.Stdout.Write(body)
	return err
}
