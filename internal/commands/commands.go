// Package commands is the bot's compile-time command registry: a fixed
// table of built-in commands substituted for the source's
// dynamically-loaded command modules, each authorized against a
// per-command level and the room's configuration override.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/configval"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
	"github.com/relaycore/relaybot/internal/router"
)

// Level is the minimum authorization a command requires to run.
type Level string

const (
	LevelNone  Level = ""
	LevelVoice Level = "voice"
	LevelOp    Level = "op"
	LevelAdmin Level = "admin"
)

func (l Level) rank() int {
	switch l {
	case LevelVoice:
		return 1
	case LevelOp:
		return 2
	case LevelAdmin:
		return 3
	default:
		return 0
	}
}

// Call carries everything a handler needs to act and reply.
type Call struct {
	Room, Nick, Userhost   string
	IsAdmin, IsOp, IsVoice bool
	Args                   []string
}

// Handler executes one command and returns the text to post, if any.
type Handler func(ctx context.Context, c Call) router.CommandResult

// Definition describes one registered command.
type Definition struct {
	Name     string
	Help     string
	Usage    string
	Requires Level
	Run      Handler
}

// Reloader performs the hot-reload controller's two operations, wired
// to the die/rehash/reload commands.
type Reloader interface {
	Rehash() error
	Reload() error
}

// Lifecycle lets the die command initiate an orderly shutdown.
type Lifecycle interface {
	Shutdown(reason string)
}

// Emitter issues raw protocol commands.
type Emitter interface {
	Raw(cmd string) error
}

// Replier generates the LLM-backed topic/kick text a few commands fall
// back to when no explicit text is supplied.
type Replier interface {
	Topic(ctx context.Context, room string)
	Kick(ctx context.Context, room, target string)
}

// Roster answers channel-membership questions the kick/boot-style
// commands need.
type Roster interface {
	Members(room string) []string
	IsOp(room, nick string) bool
}

// Registry is a compile-time command table, resolved by name and
// authorized per-call against the room's configuration.
type Registry struct {
	defs map[string]Definition

	Config  *roomconfig.View
	Clocks  *roomstate.Clocks
	ChatLog *chatlog.Store
	Roster  Roster
	Emitter Emitter
	Reload  Reloader
	Life    Lifecycle
	Reply   Replier
}

// New builds a Registry with the standard built-in command set
// registered.
func New(r Registry) *Registry {
	r.defs = make(map[string]Definition)
	r.registerStandard()
	return &r
}

func (r *Registry) register(d Definition) {
	r.defs[d.Name] = d
}

// Dispatch satisfies router.CommandDispatcher.
func (r *Registry) Dispatch(ctx context.Context, room, nick, userhost string, isAdmin, isOp, isVoice bool, name string, args []string) (router.CommandResult, bool) {
	def, ok := r.defs[name]
	if !ok {
		return router.CommandResult{}, false
	}

	requires := def.Requires
	if r.Config != nil {
		if cfg, hasOverride := r.Config.GetCommand(room, name); hasOverride {
			if !cfg.Enabled {
				return router.CommandResult{}, false
			}
			if cfg.Requires != "" {
				requires = Level(cfg.Requires)
			}
		}
	}

	if !authorized(requires, isAdmin, isOp, isVoice) {
		return router.CommandResult{}, false
	}

	call := Call{Room: room, Nick: nick, Userhost: userhost, IsAdmin: isAdmin, IsOp: isOp, IsVoice: isVoice, Args: args}
	result := def.Run(ctx, call)
	return result, true
}

func authorized(requires Level, isAdmin, isOp, isVoice bool) bool {
	if isAdmin {
		return true
	}
	switch requires.rank() {
	case 3:
		return false
	case 2:
		return isOp
	case 1:
		return isOp || isVoice
	default:
		return true
	}
}

func (r *Registry) registerStandard() {
	r.register(Definition{
		Name: "help", Usage: "[command]",
		Help: "Show available commands. Usage: help [command]",
		Run:  r.runHelp,
	})
	r.register(Definition{
		Name: "say", Usage: "<message>", Requires: LevelOp,
		Help: "Make the bot say something. Usage: say <message>",
		Run:  r.runSay,
	})
	r.register(Definition{
		Name: "topic", Usage: "[new topic]", Requires: LevelOp,
		Help: "Change the channel topic. Usage: topic [new topic]",
		Run:  r.runTopic,
	})
	r.register(Definition{
		Name: "sleep", Usage: "<minutes>", Requires: LevelOp,
		Help: "Put the bot to sleep for a specified number of minutes. Usage: sleep <minutes>",
		Run:  r.runSleep,
	})
	r.register(Definition{
		Name: "wake", Usage: "", Requires: LevelOp,
		Help: "Wake the bot from sleep mode. Usage: wake",
		Run:  r.runWake,
	})
	r.register(Definition{
		Name: "kick", Usage: "<nick> [reason]", Requires: LevelOp,
		Help: "Kick a user from the channel. Usage: kick <nick> [reason]",
		Run:  r.runKick,
	})
	r.register(Definition{
		Name: "die", Usage: "[reason]", Requires: LevelAdmin,
		Help: "Shuts down the bot. Usage: die [reason]",
		Run:  r.runDie,
	})
	r.register(Definition{
		Name: "rehash", Usage: "", Requires: LevelAdmin,
		Help: "Reload the bot configuration file only. Usage: rehash",
		Run:  r.runRehash,
	})
	r.register(Definition{
		Name: "reload", Usage: "", Requires: LevelAdmin,
		Help: "Fully reload configuration and modules. Usage: reload",
		Run:  r.runReload,
	})
	r.register(Definition{
		Name: "info", Usage: "", Requires: LevelNone,
		Help: "Display bot behavioral settings. Usage: info",
		Run:  r.runInfo,
	})
	r.register(Definition{
		Name: "var", Usage: "<variable>", Requires: LevelAdmin,
		Help: "Check that a bot variable name is known; its value is not printed. Usage: var <variable>",
		Run:  r.runVar,
	})
}

func (r *Registry) runHelp(_ context.Context, c Call) router.CommandResult {
	if len(c.Args) > 0 {
		name := strings.ToLower(c.Args[0])
		def, ok := r.defs[name]
		if !ok {
			return router.CommandResult{}
		}
		prefix := r.stringConfig(c.Room, "cmd_prefix", "!")
		usage := def.Name
		if def.Usage != "" {
			usage = def.Name + " " + def.Usage
		}
		return router.CommandResult{Text: prefix + usage + " - " + def.Help}
	}

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	prefix := r.stringConfig(c.Room, "cmd_prefix", "!")
	return router.CommandResult{
		Text: fmt.Sprintf("Available commands: %s - For details, use: %shelp <command>", strings.Join(names, ", "), prefix),
	}
}

func (r *Registry) runSay(_ context.Context, c Call) router.CommandResult {
	if len(c.Args) == 0 {
		prefix := r.stringConfig(c.Room, "cmd_prefix", "!")
		return router.CommandResult{Text: "Usage: " + prefix + "say <message>"}
	}
	return router.CommandResult{Text: strings.Join(c.Args, " ")}
}

func (r *Registry) runTopic(ctx context.Context, c Call) router.CommandResult {
	if len(c.Args) > 0 {
		if r.Emitter != nil {
			r.Emitter.Raw("TOPIC " + c.Room + " :" + strings.Join(c.Args, " "))
		}
		return router.CommandResult{}
	}
	if r.Reply != nil {
		r.Reply.Topic(ctx, c.Room)
	}
	return router.CommandResult{}
}

func (r *Registry) runSleep(_ context.Context, c Call) router.CommandResult {
	prefix := r.stringConfig(c.Room, "cmd_prefix", "!")
	if len(c.Args) == 0 {
		return router.CommandResult{Text: "Usage: " + prefix + "sleep <minutes>"}
	}
	minutes, err := strconv.Atoi(c.Args[0])
	if err != nil {
		return router.CommandResult{Text: "Sleep time must be a number"}
	}
	if minutes <= 0 {
		return router.CommandResult{Text: "Sleep time must be positive"}
	}
	sleepMax := r.intConfig(c.Room, "sleep_max", 60)
	if minutes > sleepMax {
		return router.CommandResult{Text: fmt.Sprintf("Sleep time cannot exceed %d minutes", sleepMax)}
	}
	r.Clocks.Sleep(c.Room, time.Now().Add(time.Duration(minutes)*time.Minute))
	return router.CommandResult{Text: fmt.Sprintf("Going to sleep for %d minutes. Wake me with %swake", minutes, prefix)}
}

func (r *Registry) runWake(_ context.Context, c Call) router.CommandResult {
	if !r.Clocks.IsSleeping(c.Room) {
		return router.CommandResult{Text: "I wasn't sleeping!"}
	}
	r.Clocks.Wake(c.Room)
	return router.CommandResult{Text: "I'm awake! Ready to chat again."}
}

func (r *Registry) runKick(ctx context.Context, c Call) router.CommandResult {
	if len(c.Args) == 0 {
		return router.CommandResult{Text: "Who do you want me to kick?"}
	}
	target := c.Args[0]

	if r.Roster != nil {
		present := false
		for _, m := range r.Roster.Members(c.Room) {
			if strings.EqualFold(m, target) {
				present = true
				break
			}
		}
		if !present {
			return router.CommandResult{Text: fmt.Sprintf("I don't see %s in the channel!", target)}
		}
		if r.Roster.IsOp(c.Room, target) {
			return router.CommandResult{Text: fmt.Sprintf("I can't kick %s - they're too powerful!", target)}
		}
	}

	if len(c.Args) > 1 {
		reason := strings.Join(c.Args[1:], " ")
		if r.Emitter != nil {
			r.Emitter.Raw("KICK " + c.Room + " " + target + " :" + reason)
		}
		return router.CommandResult{}
	}

	if r.Reply != nil {
		r.Reply.Kick(ctx, c.Room, target)
	}
	return router.CommandResult{}
}

func (r *Registry) runDie(_ context.Context, c Call) router.CommandResult {
	reason := "Shutdown requested by " + c.Nick
	if len(c.Args) > 0 {
		reason = strings.Join(c.Args, " ")
	}
	if r.Life != nil {
		r.Life.Shutdown(reason)
	}
	return router.CommandResult{}
}

func (r *Registry) runRehash(_ context.Context, c Call) router.CommandResult {
	if r.Reload == nil {
		return router.CommandResult{Text: "Failed to reload configuration."}
	}
	if err := r.Reload.Rehash(); err != nil {
		return router.CommandResult{Text: "Failed to reload configuration."}
	}
	return router.CommandResult{Text: "Configuration reloaded successfully."}
}

func (r *Registry) runReload(_ context.Context, c Call) router.CommandResult {
	if r.Reload == nil {
		return router.CommandResult{Text: "Failed to reload configuration."}
	}
	if err := r.Reload.Reload(); err != nil {
		return router.CommandResult{Text: "Failed to reload configuration."}
	}
	return router.CommandResult{Text: "Configuration reloaded successfully."}
}

func (r *Registry) runInfo(_ context.Context, c Call) router.CommandResult {
	aiService := r.stringConfig(c.Room, "ai_service", "openai")
	aiModel := r.stringConfig(c.Room, "ai_model", "gpt-4o-mini")
	prefix := r.stringConfig(c.Room, "cmd_prefix", "!")
	return router.CommandResult{
		Text: fmt.Sprintf("Prefix: %s | AI: using %s with model %s", prefix, aiService, aiModel),
	}
}

func (r *Registry) runVar(_ context.Context, c Call) router.CommandResult {
	if len(c.Args) == 0 {
		return router.CommandResult{Text: "Usage: var <variable>"}
	}
	name := strings.ToLower(c.Args[0])
	available := map[string]bool{
		"chat_history": true, "sleep_until": true, "last_chat": true,
		"last_action": true, "last_trigger": true, "next_continuation": true,
	}
	if !available[name] {
		return router.CommandResult{Text: fmt.Sprintf("Error: Variable '%s' not found.", c.Args[0])}
	}
	return router.CommandResult{Text: fmt.Sprintf("Variable %s is known; its value is not printed", c.Args[0])}
}

func (r *Registry) stringConfig(room, key, def string) string {
	if r.Config == nil {
		return def
	}
	return configval.String(r.Config.Get(room, key, def), def)
}

func (r *Registry) intConfig(room, key string, def int) int {
	if r.Config == nil {
		return def
	}
	return configval.Int(r.Config.Get(room, key, def), def)
}
