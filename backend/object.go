package qbridge

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"sync"

	uuid "github.com/satori/go.uuid"
)

// Add names of any functions in QObject to the blacklist in type.go

// The QObject interface must be embedded in any struct whose instances are
// owned by a Loop and should be reachable from other goroutines through a
// Thread.
//
// The QObject is initialized explicitly with Loop.InitObject, on the owner.
// Until then, the embedded interface is nil.
type QObject interface {
	// Loop returns the loop which owns the object.
	Loop() *Loop
	Identifier() string
	// IsDestroyed returns true after Destroy. Threads for the object stay
	// valid, but can no longer queue work.
	IsDestroyed() bool

	// Lock and Unlock hold the object's domain lock, which is also held
	// while queued work runs. The lock is recursive.
	Lock()
	Unlock()

	// Invoke calls the named method of the object, converting or
	// unmarshaling parameters as necessary. It must be called on the owner.
	Invoke(method string, args ...interface{}) error
	// Emit calls the listeners of the named signal synchronously. The signal
	// must be defined within the object and parameters must match exactly.
	Emit(signal string, args ...interface{})
	// Connect adds a listener for the named signal. The returned function
	// disconnects it.
	Connect(signal string, fn func(args ...interface{})) (func(), error)
	// Changed emits the change signal of a property.
	Changed(property string)

	// Destroy invalidates every Thread for the object and drops work that
	// was queued but has not run. It must be called on the owner.
	Destroy() error
}

// If a type embedding QObject implements QObjectHasInit, the InitObject
// function will be called immediately after QObject is initialized. This
// can be used to initialize fields automatically at the right time, or
// even as a form of constructor.
type QObjectHasInit interface {
	QObject
	InitObject()
}

// If a type embedding QObject implements QObjectHasDestroy, ObjectDestroyed
// is called at the end of Destroy, after queued work has been dropped.
type QObjectHasDestroy interface {
	QObject
	ObjectDestroyed()
}

type listener struct {
	id uint64
	fn func(args ...interface{})
}

type objectImpl struct {
	loop *Loop
	id   string

	object   interface{}
	typeInfo *typeInfo

	guard *GuardedPointer[objectImpl]
	lock  *RecursiveMutex
	queue deferredQueue

	listenersMu    sync.Mutex
	listeners      map[string][]listener
	nextListenerID uint64
}

var _ EventReceiver = (*objectImpl)(nil)

// asQObject returns the *objectImpl for obj, if any, and a boolean indicating if
// obj implements QObject at all.
func asQObject(obj interface{}) (*objectImpl, bool) {
	if _, ok := obj.(QObject); !ok {
		return nil, false
	} else if v := reflect.ValueOf(obj); v.Kind() == reflect.Ptr && v.IsNil() {
		return nil, false
	} else if v := reflect.Indirect(v); !v.IsValid() || v.Kind() != reflect.Struct {
		return nil, false
	} else if f := v.FieldByName("QObject"); !f.IsValid() {
		return nil, false
	} else {
		impl, _ := f.Interface().(*objectImpl)
		return impl, true
	}
}

func initObject(object interface{}, l *Loop) (*objectImpl, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("qbridge: object identifier: %w", err)
	}
	return initObjectId(object, l, u.String())
}

func initObjectId(object interface{}, l *Loop, id string) (*objectImpl, error) {
	if l == nil {
		return nil, errors.New("qbridge: nil loop")
	}
	if err := l.checkOwner(); err != nil {
		return nil, err
	}

	value := reflect.ValueOf(object)
	if value.Kind() != reflect.Ptr || value.IsNil() || value.Elem().Kind() != reflect.Struct {
		return nil, ErrNotQObject
	}
	value = value.Elem()
	field := value.FieldByName("QObject")
	if !field.IsValid() || !field.CanSet() || field.Type() != qobjInterfaceType {
		return nil, ErrNotQObject
	}

	if impl, _ := field.Interface().(*objectImpl); impl != nil && !impl.IsDestroyed() {
		if impl.loop != l {
			return nil, fmt.Errorf("qbridge: object %s belongs to another loop", impl.id)
		}
		// Live object, nothing needs to happen here
		return impl, nil
	}

	// New object, or a destroyed one being given a new identity
	ti, err := parseType(value.Type())
	if err != nil {
		return nil, err
	}
	impl := &objectImpl{
		loop:      l,
		id:        id,
		object:    object,
		typeInfo:  ti,
		lock:      &RecursiveMutex{},
		listeners: make(map[string][]listener),
	}
	impl.guard = NewGuardedPointer(impl)

	if err := l.addObject(impl); err != nil {
		return nil, err
	}

	// Write to the QObject embedded field
	field.Set(reflect.ValueOf(impl))

	initSignals(value, impl)

	// Call InitObject for new objects if implemented
	if io, ok := object.(QObjectHasInit); ok {
		io.InitObject()
	}

	return impl, nil
}

// initSignals assigns an emitter to every nil signal field.
func initSignals(v reflect.Value, impl *objectImpl) {
	for name, signal := range impl.typeInfo.Signals {
		if signal.fieldIndex == nil {
			continue
		}
		field, err := v.FieldByIndexErr(signal.fieldIndex)
		if err != nil || !field.CanSet() || !field.IsNil() {
			// Behind a nil embedded pointer, or already set by the application
			continue
		}

		name := name
		f := reflect.MakeFunc(field.Type(), func(args []reflect.Value) []reflect.Value {
			impl.emitReflected(name, args)
			return nil
		})
		field.Set(f)
	}
}

func (o *objectImpl) Loop() *Loop {
	return o.loop
}

func (o *objectImpl) Identifier() string {
	return o.id
}

func (o *objectImpl) IsDestroyed() bool {
	return !o.guard.Alive()
}

func (o *objectImpl) Lock() {
	o.lock.Lock()
}

func (o *objectImpl) Unlock() {
	o.lock.Unlock()
}

// enqueue schedules fn to run on the owner, posting a wake event unless one
// is already pending for this object.
func (o *objectImpl) enqueue(fn func()) error {
	if !o.queue.push(fn) {
		// A wake that was pending when the loop closed was dropped with it
		if o.loop.Closed() {
			return ErrLoopClosed
		}
		return nil
	}
	if err := o.loop.PostEvent(o, o.loop.queueEvent); err != nil {
		o.queue.wakePending.Store(false)
		return err
	}
	return nil
}

// Event handles the wake event on the owner by running all queued work.
func (o *objectImpl) Event(t EventType) bool {
	if t != o.loop.queueEvent {
		return false
	}
	if !o.guard.Alive() {
		return true
	}
	// Clear before draining: work pushed from here on posts a new wake
	o.queue.wakePending.Store(false)
	o.drain()
	return true
}

func (o *objectImpl) drain() {
	for _, fn := range o.queue.detach() {
		if !o.guard.Alive() {
			// destroyed by earlier work in this batch
			return
		}
		o.loop.safeRun(o.id, fn)
	}
}

func (o *objectImpl) Destroy() error {
	if err := o.loop.checkOwner(); err != nil {
		return err
	}
	o.lock.Lock()
	defer o.lock.Unlock()

	// Invalidate first; every later Queue reports ErrDestroyed
	if !o.guard.Invalidate() {
		return ErrDestroyed
	}
	o.queue.clear()
	o.loop.removePostedEvents(o)
	o.loop.removeObject(o)

	o.listenersMu.Lock()
	o.listeners = make(map[string][]listener)
	o.listenersMu.Unlock()

	if od, ok := o.object.(QObjectHasDestroy); ok {
		od.ObjectDestroyed()
	}
	return nil
}

// Invoke calls the named method of the object, converting or
// unmarshaling parameters as necessary. An error is returned if the
// method is not invoked, or if the method returned a non-nil error.
//
// Arguments for parameters that are QObjects may be given as the
// identifier of a live object on the same loop.
func (o *objectImpl) Invoke(name string, inArgs ...interface{}) error {
	if err := o.loop.checkOwner(); err != nil {
		return err
	}
	if o.IsDestroyed() {
		return ErrDestroyed
	}
	methodName, exists := o.typeInfo.methodName(name)
	if !exists {
		return fmt.Errorf("qbridge: method %s does not exist on %s", name, o.typeInfo.Name)
	}

	// Reflect to find a method named methodName on object
	method := typeMethodValueByName(reflect.ValueOf(o.object), methodName)
	if !method.IsValid() {
		return fmt.Errorf("qbridge: method %s does not exist on %s", methodName, o.typeInfo.Name)
	}
	methodType := method.Type()

	if methodType.IsVariadic() {
		return fmt.Errorf("qbridge: method %s is variadic, which is not supported", methodName)
	}
	if len(inArgs) != methodType.NumIn() {
		return fmt.Errorf("qbridge: wrong number of arguments for %s; expected %d, provided %d",
			methodName, methodType.NumIn(), len(inArgs))
	}

	// Build list of arguments
	callArgs := make([]reflect.Value, methodType.NumIn())
	for i, inArg := range inArgs {
		callArg, err := o.convertArg(inArg, methodType.In(i))
		if err != nil {
			return fmt.Errorf("qbridge: argument %d to %s: %w", i, methodName, err)
		}
		callArgs[i] = callArg
	}

	o.lock.Lock()
	defer o.lock.Unlock()

	// Call the method
	returnValues := method.Call(callArgs)

	// If any of method's return values is an error, return that
	errType := reflect.TypeOf((*error)(nil)).Elem()
	for i, value := range returnValues {
		if methodType.Out(i) == errType && !value.IsNil() {
			return value.Interface().(error)
		}
	}

	return nil
}

var umType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// convertArg matches inArg to argType, converting or unmarshaling if possible.
func (o *objectImpl) convertArg(inArg interface{}, argType reflect.Type) (reflect.Value, error) {
	inArgValue := reflect.ValueOf(inArg)

	// Replace identifiers of QObjects with the objects themselves
	if inArgValue.Kind() == reflect.String && argType.Implements(qobjInterfaceType) {
		obj := o.loop.Object(inArgValue.String())
		if obj == nil {
			return reflect.Value{}, fmt.Errorf("no object with identifier %s", inArgValue.String())
		}
		inArgValue = reflect.ValueOf(obj)
	}

	switch {
	case !inArgValue.IsValid():
		// Zero value, argument is nil
		return reflect.Zero(argType), nil

	case inArgValue.Type().AssignableTo(argType):
		return inArgValue, nil

	case inArgValue.Type().ConvertibleTo(argType) && inArgValue.Kind() != reflect.String && argType.Kind() != reflect.String:
		// Convert type directly
		return inArgValue.Convert(argType), nil

	case inArgValue.Kind() == reflect.String:
		// Attempt to unmarshal via TextUnmarshaler, directly or by pointer
		var callArg reflect.Value
		var umArg encoding.TextUnmarshaler
		if argType.Kind() == reflect.Ptr && argType.Implements(umType) {
			callArg = reflect.New(argType.Elem())
			umArg = callArg.Interface().(encoding.TextUnmarshaler)
		} else if reflect.PointerTo(argType).Implements(umType) {
			ptr := reflect.New(argType)
			umArg = ptr.Interface().(encoding.TextUnmarshaler)
			callArg = ptr.Elem()
		} else if inArgValue.Type().ConvertibleTo(argType) {
			return inArgValue.Convert(argType), nil
		}

		if umArg != nil {
			if err := umArg.UnmarshalText([]byte(inArgValue.String())); err != nil {
				return reflect.Value{}, fmt.Errorf("expected %s, unmarshal failed: %w", argType, err)
			}
			return callArg, nil
		}
	}

	return reflect.Value{}, fmt.Errorf("expected %s, provided %s", argType, inArgValue.Type())
}

func (o *objectImpl) Connect(signal string, fn func(args ...interface{})) (func(), error) {
	if fn == nil {
		return nil, errors.New("qbridge: nil signal listener")
	}
	if _, exists := o.typeInfo.Signals[signal]; !exists {
		return nil, fmt.Errorf("qbridge: signal %s does not exist on %s", signal, o.typeInfo.Name)
	}

	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.nextListenerID++
	id := o.nextListenerID
	o.listeners[signal] = append(o.listeners[signal], listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			o.listenersMu.Lock()
			defer o.listenersMu.Unlock()
			ls := o.listeners[signal]
			for i, l := range ls {
				if l.id == id {
					o.listeners[signal] = append(ls[:i:i], ls[i+1:]...)
					break
				}
			}
		})
	}, nil
}

func (o *objectImpl) Emit(signal string, args ...interface{}) {
	if o.IsDestroyed() {
		return
	}
	if err := o.loop.checkOwner(); err != nil {
		o.loop.warn(o.id, err, `emit of `+signal+` ignored`)
		return
	}
	info, exists := o.typeInfo.Signals[signal]
	if !exists {
		o.loop.warn(o.id, fmt.Errorf("qbridge: signal %s does not exist on %s", signal, o.typeInfo.Name), `emit ignored`)
		return
	}
	if info.fieldIndex != nil && len(args) != len(info.argTypes) {
		o.loop.warn(o.id, fmt.Errorf("qbridge: signal %s takes %d arguments, provided %d", signal, len(info.argTypes), len(args)), `emit ignored`)
		return
	}

	o.listenersMu.Lock()
	ls := append([]listener(nil), o.listeners[signal]...)
	o.listenersMu.Unlock()
	if len(ls) == 0 {
		return
	}

	o.lock.Lock()
	defer o.lock.Unlock()
	for _, l := range ls {
		l.fn(args...)
	}
}

func (o *objectImpl) emitReflected(signal string, args []reflect.Value) {
	unwrappedArgs := make([]interface{}, 0, len(args))
	for _, a := range args {
		unwrappedArgs = append(unwrappedArgs, a.Interface())
	}
	o.Emit(signal, unwrappedArgs...)
}

// Changed emits the change signal for property, which may be given by its
// field name or its property name.
func (o *objectImpl) Changed(property string) {
	name := property
	if _, exists := o.typeInfo.Properties[name]; !exists {
		name = lowerFirst(property)
		if _, exists := o.typeInfo.Properties[name]; !exists {
			o.loop.warn(o.id, fmt.Errorf("qbridge: property %s does not exist on %s", property, o.typeInfo.Name), `change ignored`)
			return
		}
	}
	o.Emit(typeFieldChangedName(name))
}
