package peripheral

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

type fakeOutput struct {
	values   []bool
	closed   int
	closeErr error
}

func (o *fakeOutput) SetValue(value bool) error {
	o.values = append(o.values, value)
	return nil
}

func (o *fakeOutput) Close() error {
	o.closed++
	return o.closeErr
}

type fakeInput struct {
	registered    int
	unregistered  int
	closed        int
	registerErr   error
	unregisterErr error
	closeErr      error
}

func (i *fakeInput) Register() error {
	i.registered++
	return i.registerErr
}

func (i *fakeInput) Unregister() error {
	i.unregistered++
	return i.unregisterErr
}

func (i *fakeInput) Close() error {
	i.closed++
	return i.closeErr
}

type fakePeripherals struct {
	output    *fakeOutput
	input     *fakeInput
	outputErr error
	opened    int
}

func (p *fakePeripherals) OpenOutput(pin string) (OutputPin, error) {
	p.opened++
	if p.outputErr != nil {
		return nil, p.outputErr
	}
	return p.output, nil
}

func (p *fakePeripherals) OpenInputDriver(pin string, polarity Polarity, keyCode int, handler KeyHandler) (InputDriver, error) {
	p.opened++
	return p.input, nil
}

func newFakePeripherals() *fakePeripherals {
	return &fakePeripherals{output: &fakeOutput{}, input: &fakeInput{}}
}

func TestGatewayOpenIsIdempotent(t *testing.T) {
	p := newFakePeripherals()
	g := NewGateway(p)

	require.NoError(t, g.OpenOutput("BCM21"))
	require.NoError(t, g.OpenOutput("BCM21"))
	require.NoError(t, g.OpenInput("BCM6", PressedWhenLow, KeyCodeSpace, func(KeyEvent) {}))
	require.NoError(t, g.OpenInput("BCM6", PressedWhenLow, KeyCodeSpace, func(KeyEvent) {}))

	assert.Equal(t, 2, p.opened)
	assert.Equal(t, 1, p.input.registered)
	assert.Error(t, g.OpenOutput("BCM20"), "a second output pin must be refused")
}

func TestGatewaySetOutput(t *testing.T) {
	p := newFakePeripherals()
	g := NewGateway(p)

	assert.True(t, errors.Is(g.SetOutput(true), ErrNotOpen))

	require.NoError(t, g.OpenOutput("BCM21"))
	require.NoError(t, g.SetOutput(true))
	require.NoError(t, g.SetOutput(false))
	assert.Equal(t, []bool{true, false}, p.output.values)
}

func TestGatewayOpenInputRegisterFailure(t *testing.T) {
	p := newFakePeripherals()
	p.input.registerErr = errors.New("busy")
	g := NewGateway(p)

	err := g.OpenInput("BCM6", PressedWhenLow, KeyCodeSpace, func(KeyEvent) {})
	require.Error(t, err)
	assert.Equal(t, 1, p.input.closed)
	assert.False(t, g.InputOpen())
}

func TestGatewayReleaseSurvivesOutputCloseFailure(t *testing.T) {
	p := newFakePeripherals()
	p.output.closeErr = errors.New("io error")
	g := NewGateway(p)
	require.NoError(t, g.OpenOutput("BCM21"))
	require.NoError(t, g.OpenInput("BCM6", PressedWhenLow, KeyCodeSpace, func(KeyEvent) {}))

	err := g.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close output BCM21")
	assert.Equal(t, 1, p.input.unregistered)
	assert.Equal(t, 1, p.input.closed)
	assert.Equal(t, 1, p.output.closed)
	assert.False(t, g.InputOpen())
	assert.False(t, g.OutputOpen())
}

func TestGatewayReleaseSurvivesInputFailures(t *testing.T) {
	p := newFakePeripherals()
	p.input.unregisterErr = errors.New("unregister failed")
	p.input.closeErr = errors.New("close failed")
	g := NewGateway(p)
	require.NoError(t, g.OpenOutput("BCM21"))
	require.NoError(t, g.OpenInput("BCM6", PressedWhenLow, KeyCodeSpace, func(KeyEvent) {}))

	err := g.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregister input driver")
	assert.Contains(t, err.Error(), "close input driver")
	assert.Equal(t, 1, p.input.closed, "close must run even if unregister fails")
	assert.Equal(t, 1, p.output.closed, "output release must not be short-circuited")
	assert.False(t, g.InputOpen())
	assert.False(t, g.OutputOpen())

	// a second release has nothing left to do
	assert.NoError(t, g.Release())
	assert.Equal(t, 1, p.output.closed)
}

func TestGatewayReleaseWhileKeyHandlerSetsOutput(t *testing.T) {
	p, led, button := newTestPeriph()
	g := NewGateway(p)

	inHandler := make(chan struct{})
	setLevel(button, gpio.High)
	require.NoError(t, g.OpenOutput("BCM21"))
	require.NoError(t, g.OpenInput("BCM6", PressedWhenLow, KeyCodeSpace, func(e KeyEvent) {
		close(inHandler)
		time.Sleep(50 * time.Millisecond)
		g.SetOutput(e.Down)
	}))
	require.NoError(t, g.SetOutput(false))

	pushEdge(button, gpio.Low)
	select {
	case <-inHandler:
	case <-time.After(time.Second):
		t.Fatal("key handler not called")
	}

	released := make(chan error, 1)
	go func() { released <- g.Release() }()
	select {
	case err := <-released:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("release blocked while the key handler was running")
	}
	assert.False(t, g.InputOpen())
	assert.False(t, g.OutputOpen())
	assert.Equal(t, gpio.Low, led.Read(), "output written after release")
}
