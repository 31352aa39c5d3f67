package environment

import (
	"errors"
	"sync"
)

var (
	// ErrRootPop is returned when popping the root frame.
	ErrRootPop = errors.New("cannot pop the root frame")
	// ErrForeignFrame is returned when pushing a frame of another System.
	ErrForeignFrame = errors.New("frame belongs to another system")
)

// Stack is the frame stack of one logical execution context. The bottom
// frame is always the System root.
type Stack struct {
	system *System

	mu     sync.Mutex
	frames []*Frame
}

func (s *Stack) System() *System { return s.system }

// Push makes f current. A nil f pushes a fresh frame forked from the current
// one. The pushed frame is returned.
func (s *Stack) Push(f *Frame) (*Frame, error) {
	s.mu.Lock()
	if f == nil {
		f = s.frames[len(s.frames)-1].fork("")
	} else if f.system != s.system {
		s.mu.Unlock()
		return nil, ErrForeignFrame
	}
	s.frames = append(s.frames, f)
	s.mu.Unlock()

	s.system.notifyPush(f)
	return f, nil
}

// PushNamed pushes a fresh frame labelled name.
func (s *Stack) PushNamed(name string) *Frame {
	s.mu.Lock()
	f := s.frames[len(s.frames)-1].fork(name)
	s.frames = append(s.frames, f)
	s.mu.Unlock()

	s.system.notifyPush(f)
	return f
}

// Pop removes the current frame and returns it. Afterwards Current returns
// exactly the frame that was current before the matching Push.
func (s *Stack) Pop() (*Frame, error) {
	s.mu.Lock()
	if len(s.frames) == 1 {
		s.mu.Unlock()
		return nil, ErrRootPop
	}
	f := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	s.mu.Unlock()

	s.system.notifyPop(f)
	return f, nil
}

// Current returns the top frame.
func (s *Stack) Current() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

// Depth counts pushed frames, not including the root.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) - 1
}

// Fork returns a stack for a child execution context. It starts with the
// same frames; pushes and pops on either stack do not affect the other.
func (s *Stack) Fork() *Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Stack{system: s.system, frames: append([]*Frame(nil), s.frames...)}
}
