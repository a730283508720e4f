// Package scripting embeds a Lua interpreter for user hook scripts. Hooks
// run on the mapper goroutine, so scripts see a consistent world and need
// no locking.
package scripting

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
)

// Host is what scripts may do to the rest of the proxy. The mapper
// implements it.
type Host interface {
	SendServer(msg string)
	SendClient(msg string)
	RoomVnum() string
	RoomName() string
	StartTimer(name string, d time.Duration, repeating bool) int
	CancelTimer(id int) bool
}

const regexCacheSize = 64

// Engine owns one Lua state and the hooks scripts registered in it.
type Engine struct {
	logger hclog.Logger
	host   Host
	state  *lua.LState
	hooks  map[string][]*lua.LFunction
	timers map[string]*lua.LFunction

	regexCache *lru.Cache[string, *regexp.Regexp]
}

// New creates an Engine with no host; nothing fires until Bind.
func New(logger hclog.Logger) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	e := &Engine{logger: logger}
	e.regexCache, _ = lru.New[string, *regexp.Regexp](regexCacheSize)
	e.reset()
	return e
}

// Bind attaches the host. Must be called before any script runs.
func (e *Engine) Bind(host Host) {
	e.host = host
}

func (e *Engine) reset() {
	if e.state != nil {
		e.state.Close()
	}
	e.state = lua.NewState()
	e.hooks = make(map[string][]*lua.LFunction)
	e.timers = make(map[string]*lua.LFunction)
	e.state.SetGlobal("mume", e.buildAPI())
}

// Reset discards all loaded scripts and hooks.
func (e *Engine) Reset() {
	e.reset()
}

// Close releases the Lua state.
func (e *Engine) Close() {
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

// Load runs a script file; its top level usually just registers hooks.
func (e *Engine) Load(path string) error {
	if err := e.state.DoFile(path); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}

// OnEvent fires the hooks registered for a mud event. Script errors are
// logged and swallowed; a broken hook must not desync the mapper.
func (e *Engine) OnEvent(name, data string) {
	for _, hook := range e.hooks[name] {
		e.call(hook, lua.LString(data))
	}
}

// OnTimer fires the Lua callback a script attached to a named timer.
func (e *Engine) OnTimer(name string) {
	if hook, ok := e.timers[name]; ok {
		e.call(hook)
	}
}

func (e *Engine) call(fn *lua.LFunction, args ...lua.LValue) {
	if err := e.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		e.logger.Error("lua hook failed", "error", err)
	}
}

func (e *Engine) buildAPI() *lua.LTable {
	api := e.state.NewTable()
	e.state.SetFuncs(api, map[string]lua.LGFunction{
		"send":   e.luaSend,
		"echo":   e.luaEcho,
		"log":    e.luaLog,
		"on":     e.luaOn,
		"room":   e.luaRoom,
		"match":  e.luaMatch,
		"timer":  e.luaTimer,
		"cancel": e.luaCancel,
	})
	return api
}

func (e *Engine) luaSend(L *lua.LState) int {
	if e.host != nil {
		e.host.SendServer(L.CheckString(1))
	}
	return 0
}

func (e *Engine) luaEcho(L *lua.LState) int {
	if e.host != nil {
		e.host.SendClient(L.CheckString(1))
	}
	return 0
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.logger.Info("script", "msg", L.CheckString(1))
	return 0
}

// mume.on("line", fn) registers fn for every decoded line; any mud event
// name works, including "prompt" and "movement".
func (e *Engine) luaOn(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	e.hooks[name] = append(e.hooks[name], fn)
	return 0
}

func (e *Engine) luaRoom(L *lua.LState) int {
	room := L.NewTable()
	if e.host != nil {
		room.RawSetString("vnum", lua.LString(e.host.RoomVnum()))
		room.RawSetString("name", lua.LString(e.host.RoomName()))
	}
	L.Push(room)
	return 1
}

// mume.match(pattern, s) returns the capture groups as a table, or nil.
func (e *Engine) luaMatch(L *lua.LState) int {
	pattern := L.CheckString(1)
	s := L.CheckString(2)
	re, ok := e.regexCache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		e.regexCache.Add(pattern, re)
	}
	match := re.FindStringSubmatch(s)
	if match == nil {
		L.Push(lua.LNil)
		return 1
	}
	groups := L.NewTable()
	for i, group := range match {
		groups.RawSetInt(i, lua.LString(group))
	}
	L.Push(groups)
	return 1
}

// mume.timer(name, seconds, fn, repeating) schedules fn; returns the id.
func (e *Engine) luaTimer(L *lua.LState) int {
	name := L.CheckString(1)
	seconds := L.CheckNumber(2)
	fn := L.CheckFunction(3)
	repeating := L.OptBool(4, false)
	if e.host == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	e.timers[name] = fn
	id := e.host.StartTimer(name, time.Duration(float64(seconds)*float64(time.Second)), repeating)
	L.Push(lua.LNumber(id))
	return 1
}

func (e *Engine) luaCancel(L *lua.LState) int {
	id := L.CheckInt(1)
	if e.host == nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(e.host.CancelTimer(id)))
	return 1
}
