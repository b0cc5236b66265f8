package speed

import (
	"fmt"
	"math"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Script wraps a Lua state exposing infer_speed(highway, maxspeed).
// The function returns a number of mph, or nil to defer to the class table.
//
//	function infer_speed(highway, maxspeed)
//	  if highway == "living_street" then return 10 end
//	  return nil
//	end
type Script struct {
	mu    sync.Mutex
	L     *lua.LState
	infer lua.LValue
}

// LoadScript loads a Lua speed script from a file
func LoadScript(path string) (*Script, error) {
	s := newScript()
	if err := s.L.DoFile(path); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load speed script: %w", err)
	}
	return s.bind()
}

// LoadScriptString loads a Lua speed script from source
func LoadScriptString(code string) (*Script, error) {
	s := newScript()
	if err := s.L.DoString(code); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load speed script: %w", err)
	}
	return s.bind()
}

func newScript() *Script {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	// parse_maxspeed lets scripts reuse the tag parser
	L.SetGlobal("parse_maxspeed", L.NewFunction(func(L *lua.LState) int {
		mph, ok := ParseTag(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(mph))
		return 1
	}))

	return &Script{L: L}
}

func (s *Script) bind() (*Script, error) {
	fn := s.L.GetGlobal("infer_speed")
	if fn.Type() != lua.LTFunction {
		s.Close()
		return nil, fmt.Errorf("speed script must define function infer_speed(highway, maxspeed)")
	}
	s.infer = fn
	return s, nil
}

// Infer calls infer_speed. Errors raised by the script count as unknown.
func (s *Script) Infer(highway, maxspeed string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.L.CallByParam(lua.P{
		Fn:      s.infer,
		NRet:    1,
		Protect: true,
	}, lua.LString(highway), lua.LString(maxspeed))
	if err != nil {
		return 0, false
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, false
	}
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int(math.Round(v)), true
}

// Close releases Lua resources
func (s *Script) Close() {
	if s.L != nil {
		s.L.Close()
	}
}
