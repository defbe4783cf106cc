package keyroute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHook struct {
	installs   int
	uninstalls int
	deliver    func(KeyEvent)
	failNext   bool
}

func (h *fakeHook) Install(deliver func(KeyEvent)) error {
	if h.failNext {
		h.failNext = false
		return errors.New("hook denied")
	}
	h.installs++
	h.deliver = deliver
	return nil
}

func (h *fakeHook) Uninstall() error {
	h.uninstalls++
	h.deliver = nil
	return nil
}

type fakeTarget struct {
	events []KeyEvent
}

func (t *fakeTarget) HandleKey(ev KeyEvent) bool {
	t.events = append(t.events, ev)
	return true
}

// TEST050: The hook is installed once for the first target and removed with the last
func TestRouterRefCountedHook(t *testing.T) {
	hook := &fakeHook{}
	r := NewRouter(hook, nil)

	releaseA, err := r.Register("a", &fakeTarget{})
	require.NoError(t, err)
	releaseB, err := r.Register("b", &fakeTarget{})
	require.NoError(t, err)
	assert.Equal(t, 1, hook.installs)
	assert.True(t, r.Installed())

	releaseA()
	releaseA()
	assert.Equal(t, 0, hook.uninstalls)
	assert.Equal(t, 1, r.Len())

	releaseB()
	assert.Equal(t, 1, hook.uninstalls)
	assert.False(t, r.Installed())

	_, err = r.Register("c", &fakeTarget{})
	require.NoError(t, err)
	assert.Equal(t, 2, hook.installs)
}

// TEST051: Hook events reach only the focused target
func TestRouterFocus(t *testing.T) {
	hook := &fakeHook{}
	r := NewRouter(hook, nil)
	a, b := &fakeTarget{}, &fakeTarget{}

	_, err := r.Register("a", a)
	require.NoError(t, err)
	releaseB, err := r.Register("b", b)
	require.NoError(t, err)

	hook.deliver(KeyEvent{Code: 1})
	assert.Empty(t, a.events, "nothing is focused yet")

	require.NoError(t, r.Focus("b"))
	hook.deliver(KeyEvent{Code: 2, Key: "x", Down: true})
	assert.Empty(t, a.events)
	require.Len(t, b.events, 1)
	assert.Equal(t, "x", b.events[0].Key)

	releaseB()
	assert.False(t, r.Dispatch(KeyEvent{Code: 3}), "focus is cleared with its target")
	assert.ErrorIs(t, r.Focus("b"), ErrUnknownTarget)
}

// TEST052: Duplicate ids and hook failures are reported
func TestRouterRegisterErrors(t *testing.T) {
	hook := &fakeHook{failNext: true}
	r := NewRouter(hook, nil)

	_, err := r.Register("a", &fakeTarget{})
	require.Error(t, err)
	assert.Equal(t, 0, r.Len())

	_, err = r.Register("a", &fakeTarget{})
	require.NoError(t, err)
	_, err = r.Register("a", &fakeTarget{})
	assert.ErrorIs(t, err, ErrDuplicateTarget)
}
