// Command relaybot connects to an IRC-like network and relays
// conversation through an LLM-backed reply pipeline, per room.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/relaycore/relaybot/internal/access"
	"github.com/relaycore/relaybot/internal/buildinfo"
	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/commands"
	"github.com/relaycore/relaybot/internal/config"
	"github.com/relaycore/relaybot/internal/configval"
	"github.com/relaycore/relaybot/internal/connwatch"
	"github.com/relaycore/relaybot/internal/control"
	"github.com/relaycore/relaybot/internal/events"
	"github.com/relaycore/relaybot/internal/flood"
	"github.com/relaycore/relaybot/internal/llm"
	"github.com/relaycore/relaybot/internal/logging"
	"github.com/relaycore/relaybot/internal/metrics"
	"github.com/relaycore/relaybot/internal/netconn"
	"github.com/relaycore/relaybot/internal/reload"
	"github.com/relaycore/relaybot/internal/reply"
	"github.com/relaycore/relaybot/internal/roomstate"
	"github.com/relaycore/relaybot/internal/router"
	"github.com/relaycore/relaybot/internal/scheduler"
	"github.com/relaycore/relaybot/internal/session"
	"github.com/relaycore/relaybot/internal/tokenbucket"
	"github.com/relaycore/relaybot/internal/tracing"
	"github.com/relaycore/relaybot/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	noFork := flag.Bool("no-fork", false, "accepted for compatibility; relaybot always runs in the foreground")
	flag.Parse()
	_ = noFork

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid log_level in config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logging.ReplaceLevelNames,
	}))
	logger.Info("starting relaybot", "version", buildinfo.Version, "config", cfgPath)

	if err := writePIDFile(cfg.PidFile); err != nil {
		logger.Warn("failed to write pid file", "path", cfg.PidFile, "error", err)
	}
	defer os.Remove(cfg.PidFile)

	tp, err := tracing.Init(tracing.Config{Enabled: cfg.Tracing.Enabled, ServiceName: cfg.Tracing.ServiceName}, os.Stdout)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer tp.Shutdown(context.Background())

	bus := events.New()
	roomCfg := cfg.RoomConfigView()
	clocks := roomstate.New()
	chatLog := chatlog.New(chatlog.DefaultLimit)
	floodDet := flood.New()
	accessCtrl := access.New(cfg.AdminPatterns())
	bucket := tokenbucket.New(cfg.IRCBurstSize, cfg.IRCFillRate)
	llmClient := llm.NewOpenAICompatibleClient(cfg.AIServiceEndpoints(), cfg.LogAPI, logger)

	netconnMgr := netconn.New(cfg.NetconnConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())

	// One watcher per configured ai_service: surfaces reachability on
	// /status without putting a probe on the reply pipeline's hot path.
	watchMgr := connwatch.NewManager(logger)
	for name, baseURL := range cfg.AIServiceEndpoints() {
		watchMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:   name,
			Probe:  probeHTTP(baseURL),
			Logger: logger,
		})
	}

	// sessions and writer are recreated on every reconnect; live and
	// emitter hold the current instance behind a mutex so the
	// long-lived router/scheduler/commands/reply wiring below can be
	// built once, before any connection exists.
	live := &sessionHandle{}
	emitter := &writerHandle{}
	life := &lifecycle{cancel: cancel, logger: logger}

	replyPipeline := reply.New(reply.Pipeline{
		LLM:     llmClient,
		ChatLog: chatLog,
		Config:  roomCfg,
		Roster:  live,
		Emitter: emitter,
		Clocks:  clocks,
		Logger:  logger,
	})

	cmdRegistry := commands.New(commands.Registry{
		Config:  roomCfg,
		Clocks:  clocks,
		ChatLog: chatLog,
		Roster:  live,
		Emitter: emitter,
		Reply:   replyPipeline,
		Life:    life,
	})

	rtr := router.New(router.Deps{
		Roster:   live,
		Access:   accessCtrl,
		Flood:    floodDet,
		ChatLog:  chatLog,
		Clocks:   clocks,
		Config:   roomCfg,
		Commands: cmdRegistry,
		Reply:    replyPipeline,
		Emitter:  emitter,
		Logger:   logger,
	})

	sched := scheduler.New(scheduler.Deps{
		Roster:  live,
		ChatLog: chatLog,
		Clocks:  clocks,
		Config:  roomCfg,
		Reply:   replyPipeline,
		Emitter: emitter,
		Logger:  logger,
	})

	reloadCtrl := reload.New(cfgPath, cfg, roomCfg, accessCtrl, clocks, live, bus)
	cmdRegistry.Reload = reloadCtrl

	if cfg.Control.Enabled {
		ctrlSrv := control.New(control.Config{
			Address:            cfg.Control.Address,
			Port:               cfg.Control.Port,
			AuthKey:            cfg.Control.AuthKey,
			RateLimitPerMinute: cfg.Control.RateLimitPerMinute,
		}, reloadCtrl, statusAdapter{live}, watchMgr, metrics.Registry, logger)

		go func() {
			if err := ctrlSrv.ListenAndServe(); err != nil && ctx.Err() == nil {
				logger.Error("control plane stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ctrlSrv.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("SIGHUP received, rehashing")
				if err := reloadCtrl.Rehash(); err != nil {
					logger.Error("rehash failed", "error", err)
				}
			case syscall.SIGUSR1:
				logger.Info("SIGUSR1 received, reloading")
				if err := reloadCtrl.Reload(); err != nil {
					logger.Error("reload failed", "error", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("shutdown signal received", "signal", sig)
				cancel()
				return
			}
		}
	}()

	netconnMgr.Run(ctx, func(connCtx context.Context, conn net.Conn, server netconn.Server) {
		writer := wire.NewWriter(conn, bucket)
		if cfg.LogRaw {
			writer.EnableRawLog(logger)
		}
		emitter.set(writer)

		handlers := session.Handlers{
			OnChannelMessage: func(room, nick, userhost, text string) {
				rtr.HandleChannelMessage(connCtx, room, nick, userhost, live.accountFor(nick), text)
			},
			OnPrivateMessage: func(nick, userhost, text string) {
				logger.Debug("private message", "nick", nick, "text", text)
			},
			OnRegistered: func() {
				bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceSession, Kind: events.KindRegistered, Data: map[string]any{"nick": live.CurrentNick()}})
				sched.Start(connCtx)
			},
			OnJoinedRoom: func(room string) {
				bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceSession, Kind: events.KindJoined, Data: map[string]any{"room": room}})
			},
			OnKickedSelf: func(room, by, reason string) {
				bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceSession, Kind: events.KindKicked, Data: map[string]any{"room": room, "by": by, "reason": reason}})
			},
			CheckPrivateFlood: func(nick string) bool {
				return floodDet.CheckPrivate(nick, accessCtrl.IsAdmin(access.Identity{Nick: nick}), privateFloodWindow(roomCfg))
			},
		}

		sess := session.New(cfg.SessionConfig(), writer, handlers, logger).WithContext(connCtx).WithRawLog(cfg.LogRaw)
		live.set(sess)
		sess.Begin()

		bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceSession, Kind: events.KindConnected, Data: map[string]any{"host": server.Host}})

		readLoop(connCtx, conn, sess, logger)

		sched.Stop()
		live.set(nil)
		emitter.set(nil)
		bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceSession, Kind: events.KindDisconnected, Data: map[string]any{"host": server.Host}})
	})

	logger.Info("relaybot stopped")
}

// readLoop reads CRLF-delimited protocol lines from conn and feeds them
// to sess until the connection closes or ctx is canceled.
func readLoop(ctx context.Context, conn net.Conn, sess *session.Session, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 8192)
	for scanner.Scan() {
		sess.HandleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Warn("connection read error", "error", err)
	}
}

// probeHTTP builds a connwatch.ProbeFunc that considers an ai_service
// reachable when its models endpoint responds without a server error.
func probeHTTP(baseURL string) connwatch.ProbeFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("ai_service probe: status %d", resp.StatusCode)
		}
		return nil
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func privateFloodWindow(roomCfg interface {
	Get(room, key string, def any) any
}) flood.Window {
	return flood.Window{
		Lines:          configval.Int(roomCfg.Get("", "privmsg_floodpro.lines", 0), 0),
		Seconds:        time.Duration(configval.Int(roomCfg.Get("", "privmsg_floodpro.seconds", 0), 0)) * time.Second,
		PenaltySeconds: time.Duration(configval.Int(roomCfg.Get("", "privmsg_floodpro.ban_time", 0), 0)) * time.Minute,
	}
}

// sessionHandle forwards Roster calls to whichever *session.Session is
// live for the current connection, so the router/scheduler/commands
// wiring can be built once even though a fresh Session is constructed
// on every reconnect.
type sessionHandle struct {
	mu   sync.RWMutex
	sess *session.Session
}

func (h *sessionHandle) set(s *session.Session) {
	h.mu.Lock()
	h.sess = s
	h.mu.Unlock()
}

func (h *sessionHandle) get() *session.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sess
}

func (h *sessionHandle) CurrentNick() string {
	if s := h.get(); s != nil {
		return s.CurrentNick()
	}
	return ""
}

func (h *sessionHandle) IsOp(room, nick string) bool {
	if s := h.get(); s != nil {
		return s.IsOp(room, nick)
	}
	return false
}

func (h *sessionHandle) IsVoice(room, nick string) bool {
	if s := h.get(); s != nil {
		return s.IsVoice(room, nick)
	}
	return false
}

func (h *sessionHandle) Members(room string) []string {
	if s := h.get(); s != nil {
		return s.Members(room)
	}
	return nil
}

func (h *sessionHandle) JoinedRooms() []string {
	if s := h.get(); s != nil {
		return s.JoinedRooms()
	}
	return nil
}

func (h *sessionHandle) ConfiguredRooms() []string {
	if s := h.get(); s != nil {
		return s.ConfiguredRooms()
	}
	return nil
}

func (h *sessionHandle) HasPendingOrJoined(room string) bool {
	if s := h.get(); s != nil {
		return s.HasPendingOrJoined(room)
	}
	return false
}

func (h *sessionHandle) State() string {
	if s := h.get(); s != nil {
		return s.State().String()
	}
	return "disconnected"
}

func (h *sessionHandle) accountFor(nick string) string {
	s := h.get()
	if s == nil {
		return ""
	}
	u, ok := s.UserInfo(nick)
	if !ok {
		return ""
	}
	return u.Account
}

// writerHandle forwards Emitter.Raw and Emitter.Send to whichever
// *wire.Writer is live for the current connection. Both go through the
// writer's token-bucket-paced Send, so every line the router, reply
// pipeline, scheduler and commands emit is rate-limited; only the
// session's own lines use the writer's unpaced Raw.
type writerHandle struct {
	mu sync.RWMutex
	w  *wire.Writer
}

func (h *writerHandle) set(w *wire.Writer) {
	h.mu.Lock()
	h.w = w
	h.mu.Unlock()
}

func (h *writerHandle) Raw(cmd string) error {
	h.mu.RLock()
	w := h.w
	h.mu.RUnlock()
	if w == nil {
		return errNotConnected
	}
	return w.Send(cmd)
}

func (h *writerHandle) Send(cmd string) error {
	return h.Raw(cmd)
}

var errNotConnected = fmt.Errorf("relaybot: no live connection")

// statusAdapter presents session.State() (a session.State, not a bare
// string) as control.StatusProvider expects.
type statusAdapter struct {
	*sessionHandle
}

// lifecycle satisfies commands.Lifecycle: the die command's path to an
// orderly shutdown.
type lifecycle struct {
	cancel context.CancelFunc
	logger *slog.Logger
}

func (l *lifecycle) Shutdown(reason string) {
	l.logger.Info("shutdown requested", "reason", reason)
	l.cancel()
}
