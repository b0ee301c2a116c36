package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/chat"
	"github.com/omochice/direct-chat/internal/config"
	"github.com/omochice/direct-chat/internal/logging"
	"github.com/omochice/direct-chat/internal/metrics"
)

const usage = `Type a message and press enter to send it. Commands:
  /typing      announce that you are typing
  /stop        announce that you stopped typing
  /read <id>   mark a message as read
  /quit        leave the room`

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to a YAML config file")
	baseURL := flag.String("base-url", "", "API base URL; the broker endpoint is derived from it")
	room := flag.String("room", "", "Direct chat room id")
	token := flag.String("token", os.Getenv("DIRECT_CHAT_TOKEN"), "Bearer token (defaults to $DIRECT_CHAT_TOKEN)")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve prometheus metrics on (e.g., :9100)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *baseURL != "" {
		cfg.Apply(config.WithBaseURL(*baseURL))
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go serveMetrics(logger, cfg.MetricsAddr)
	}

	ui := newPrinter()
	sess, err := chat.Open(cfg, chat.RoomID(*room), chat.Credential(*token), ui.handlers(),
		chat.WithLogger(logger),
		chat.WithMetrics(m),
	)
	if errors.Is(err, chat.ErrMisconfigured) {
		log.Fatalf("Cannot open room: %v (check -room and -token)", err)
	}
	if err != nil {
		log.Fatalf("Failed to open room: %v", err)
	}
	defer sess.Close()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	fmt.Println(usage)
	for {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, leaving room", zap.Stringer("signal", sig))
			return
		case text, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(sess, ui, text); quit {
				return
			}
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func serveMetrics(logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}
}

// handleLine runs one input line and reports whether the user asked to quit.
func handleLine(sess *chat.Session, ui *printer, text string) bool {
	var err error
	switch {
	case text == "":
		return false
	case text == "/quit" || text == "/exit":
		return true
	case text == "/typing":
		err = sess.StartTyping()
	case text == "/stop":
		err = sess.StopTyping()
	case strings.HasPrefix(text, "/read "):
		id, perr := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(text, "/read ")), 10, 64)
		if perr != nil {
			ui.warn("usage: /read <message id>")
			return false
		}
		err = sess.MarkRead(id)
	default:
		err = sess.PublishMessage(text)
	}

	// Rejections are expected while reconnecting; the input stays usable.
	if errors.Is(err, chat.ErrPublishRejected) {
		ui.warn("not sent: " + err.Error())
	} else if err != nil {
		ui.warn("send failed: " + err.Error())
	}
	return false
}

type printer struct {
	name   func(a ...any) string
	status func(a ...any) string
	notice func(a ...any) string
}

func newPrinter() *printer {
	return &printer{
		name:   color.New(color.FgCyan, color.Bold).SprintFunc(),
		status: color.New(color.FgGreen).SprintFunc(),
		notice: color.New(color.FgYellow).SprintFunc(),
	}
}

func (p *printer) warn(msg string) {
	fmt.Println(p.notice("! " + msg))
}

func (p *printer) handlers() chat.Handlers {
	return chat.Handlers{
		OnMessage: func(msg chat.InboundMessage) {
			stamp := msg.CreatedTime.Format("15:04")
			sender := msg.Nickname
			if sender == "" {
				sender = msg.Username
			}
			switch msg.MessageType {
			case chat.MessageTypeImage, chat.MessageTypeFile:
				fmt.Printf("%s [%s] #%d: %s (%s)\n", stamp, p.name(sender), msg.ID, msg.FileName, msg.FileURL)
			default:
				fmt.Printf("%s [%s] #%d: %s\n", stamp, p.name(sender), msg.ID, msg.Message)
			}
		},
		OnRead: func(r chat.ReadReceipt) {
			if r.IsRead {
				fmt.Println(p.status(fmt.Sprintf("  %s read #%d", r.Username, r.MessageID)))
			}
		},
		OnConnectionChange: func(connected bool) {
			if connected {
				fmt.Println(p.status("*** connected ***"))
			} else {
				fmt.Println(p.notice("*** disconnected, reconnecting ***"))
			}
		},
		OnTypingChange: func(usernames []string) {
			switch len(usernames) {
			case 0:
			case 1:
				fmt.Println(p.notice(usernames[0] + " is typing..."))
			default:
				fmt.Println(p.notice(strings.Join(usernames, ", ") + " are typing..."))
			}
		},
	}
}
