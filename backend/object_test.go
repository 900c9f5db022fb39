package qbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoop *Loop

type BasicStruct struct {
	StringData string
}

type BasicQObject struct {
	QObject

	StringData string
	StructData BasicStruct
	Child      *BasicQObject

	initWasCalled    bool
	destroyWasCalled bool
}

func (o *BasicQObject) InitObject() {
	o.initWasCalled = true
}

func (o *BasicQObject) ObjectDestroyed() {
	o.destroyWasCalled = true
}

func TestMain(m *testing.M) {
	var err error
	testLoop, err = NewLoop(WithLogger(NewLogger(io.Discard, logiface.LevelWarning)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// lockedBuffer collects log output written from the owner goroutine.
type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func newLoggedLoop(t *testing.T, opts ...LoopOption) (*Loop, *lockedBuffer) {
	t.Helper()
	buf := &lockedBuffer{}
	l, err := NewLoop(append([]LoopOption{WithLogger(NewLogger(buf, logiface.LevelDebug))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, buf
}

func TestQObjectInit(t *testing.T) {
	q := &BasicQObject{}

	require.NoError(t, testLoop.InitObject(q))
	require.NotNil(t, q.QObject)

	_, err := uuid.FromString(q.Identifier())
	assert.NoError(t, err, "identifier should be a UUID")
	assert.True(t, q.initWasCalled, "QObjectHasInit initialization function not called")
	assert.Same(t, testLoop, q.Loop())
	assert.False(t, q.IsDestroyed())
	assert.Equal(t, q, testLoop.Object(q.Identifier()))

	// Initializing again changes nothing
	id := q.Identifier()
	q.initWasCalled = false
	require.NoError(t, testLoop.InitObject(q))
	assert.Equal(t, id, q.Identifier())
	assert.False(t, q.initWasCalled)

	other := &BasicQObject{}
	require.NoError(t, testLoop.InitObject(other))
	assert.NotEqual(t, q.Identifier(), other.Identifier())

	t.Logf("Typeinfo: %v", q.QObject.(*objectImpl).typeInfo)
}

func TestQObjectInitErrors(t *testing.T) {
	assert.ErrorIs(t, testLoop.InitObject(BasicQObject{}), ErrNotQObject)
	assert.ErrorIs(t, testLoop.InitObject((*BasicQObject)(nil)), ErrNotQObject)
	assert.Error(t, testLoop.InitObject(nil))

	q := &BasicQObject{}
	other, err := NewLoop(WithLogger(NewLogger(io.Discard, logiface.LevelWarning)))
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.InitObject(q))
	assert.Error(t, testLoop.InitObject(q), "object belongs to another loop")
}

func TestQObjectInitId(t *testing.T) {
	q := &BasicQObject{}
	require.NoError(t, testLoop.InitObjectId(q, "fixed-id"))
	defer q.Destroy()
	assert.Equal(t, "fixed-id", q.Identifier())

	dup := &BasicQObject{}
	assert.Error(t, testLoop.InitObjectId(dup, "fixed-id"))
	assert.Nil(t, dup.QObject)

	// Same object, same id
	assert.NoError(t, testLoop.InitObjectId(q, "fixed-id"))
}

func TestQObjectDestroy(t *testing.T) {
	q := &BasicQObject{}
	require.NoError(t, testLoop.InitObject(q))
	id := q.Identifier()

	require.NoError(t, q.Destroy())
	assert.True(t, q.IsDestroyed())
	assert.True(t, q.destroyWasCalled)
	assert.Nil(t, testLoop.Object(id))
	assert.ErrorIs(t, q.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, q.Invoke("anything"), ErrDestroyed)

	// A destroyed object can be initialized again, with a new identity
	q.initWasCalled = false
	require.NoError(t, testLoop.InitObject(q))
	assert.NotEqual(t, id, q.Identifier())
	assert.True(t, q.initWasCalled)
	assert.False(t, q.IsDestroyed())
	require.NoError(t, q.Destroy())
}

type SignalQObject struct {
	QObject
	Value int

	NoArgs     func()
	NormalArgs func([]int, string) `qbridge:"ints,str"`
	ObjectArgs func(*BasicQObject) `qbridge:"obj"`
}

func TestSignals(t *testing.T) {
	q := &SignalQObject{}

	// Init should assign functions for each signal
	require.NoError(t, testLoop.InitObject(q))
	defer q.Destroy()
	if q.NoArgs == nil || q.NormalArgs == nil || q.ObjectArgs == nil {
		t.Fatalf("QObject initialization didn't initialize signals: %+v", q)
	}

	var got [][]interface{}
	record := func(args ...interface{}) { got = append(got, args) }

	disconnectNoArgs, err := q.Connect("noArgs", record)
	require.NoError(t, err)
	_, err = q.Connect("normalArgs", record)
	require.NoError(t, err)
	_, err = q.Connect("objectArgs", record)
	require.NoError(t, err)
	_, err = q.Connect("valueChanged", record)
	require.NoError(t, err)

	arg := &BasicQObject{StringData: "i am object argument"}
	q.NoArgs()
	q.NormalArgs([]int{1, 2, 3, 4, 5}, "one to five")
	q.ObjectArgs(arg)
	q.Value = 2
	q.Changed("Value")

	require.Len(t, got, 4)
	assert.Empty(t, got[0])
	assert.Equal(t, []interface{}{[]int{1, 2, 3, 4, 5}, "one to five"}, got[1])
	assert.Equal(t, []interface{}{arg}, got[2])
	assert.Empty(t, got[3])

	disconnectNoArgs()
	disconnectNoArgs()
	q.NoArgs()
	assert.Len(t, got, 4)

	_, err = q.Connect("missing", record)
	assert.Error(t, err)
	_, err = q.Connect("noArgs", nil)
	assert.Error(t, err)

	// Wrong argument counts are ignored
	q.Emit("normalArgs", 1)
	assert.Len(t, got, 4)
}

func TestSignalsWarnings(t *testing.T) {
	l, logs := newLoggedLoop(t)
	q := &SignalQObject{}
	require.NoError(t, l.InitObject(q))

	q.Emit("missing")
	q.Changed("Missing")
	out := logs.String()
	assert.Contains(t, out, `signal missing does not exist`)
	assert.Contains(t, out, `property Missing does not exist`)
	assert.Contains(t, out, q.Identifier())
}

type MethodQObject struct {
	QObject
	Count int
	Last  upperString
}

type upperString string

func (u *upperString) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return errors.New("empty")
	}
	*u = upperString(strings.ToUpper(string(text)))
	return nil
}

var errMethodFailed = errors.New("method failed")

func (m *MethodQObject) Increment() {
	m.Count++
}

func (m *MethodQObject) Add(i int) {
	m.Count += i
}

func (m *MethodQObject) SetLast(s upperString) {
	m.Last = s
}

func (m *MethodQObject) Fail() error {
	return errMethodFailed
}

func (m *MethodQObject) Update(obj *BasicQObject) {
	if obj != nil {
		obj.StringData = fmt.Sprintf("Count is %d", m.Count)
	}
}

func TestMethods(t *testing.T) {
	q := &MethodQObject{}

	require.NoError(t, testLoop.InitObject(q))
	defer q.Destroy()

	err := q.Invoke("increment")
	if assert.NoError(t, err) {
		assert.Equal(t, 1, q.Count)
	}

	err = q.Invoke("Add", 4)
	if assert.NoError(t, err) {
		assert.Equal(t, 5, q.Count)
	}

	// float64 converts to int
	require.NoError(t, q.Invoke("add", 1.0))
	assert.Equal(t, 6, q.Count)

	require.NoError(t, q.Invoke("setLast", "hello"))
	assert.Equal(t, upperString("HELLO"), q.Last)
	assert.Error(t, q.Invoke("setLast", ""))

	strObj := &BasicQObject{}
	require.NoError(t, testLoop.InitObject(strObj))
	defer strObj.Destroy()

	// Objects may be referred to by identifier
	require.NoError(t, q.Invoke("update", strObj.Identifier()))
	assert.Equal(t, "Count is 6", strObj.StringData)
	require.NoError(t, q.Invoke("update", strObj))
	require.NoError(t, q.Invoke("update", nil))
	assert.Error(t, q.Invoke("update", "no-such-object"))

	assert.ErrorIs(t, q.Invoke("fail"), errMethodFailed)
	assert.Error(t, q.Invoke("add"))
	assert.Error(t, q.Invoke("add", "four"))
	assert.Error(t, q.Invoke("missing"))
	if err := q.Invoke("NoSuchMethod"); assert.Error(t, err) {
		assert.Contains(t, err.Error(), "method NoSuchMethod does not exist")
	}
	assert.Error(t, q.Invoke("destroy"), "QObject methods are not invokable")
}

func TestInvokeHoldsLock(t *testing.T) {
	q := &LockCheckQObject{}
	require.NoError(t, testLoop.InitObject(q))
	defer q.Destroy()

	require.NoError(t, q.Invoke("check"))
	assert.True(t, q.wasHeld)
}

type LockCheckQObject struct {
	QObject
	wasHeld bool
}

func (q *LockCheckQObject) Check() {
	held := make(chan bool)
	go func() { held <- !q.QObject.(*objectImpl).lock.TryLock() }()
	q.wasHeld = <-held
}
