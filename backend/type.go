package qbridge

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// I cannot find any better way to filter the methods of the QObject interface
// from a type embedding that interface than this :/
var methodBlacklist = []string{
	"Loop",
	"Identifier",
	"IsDestroyed",
	"Lock",
	"Unlock",
	"Invoke",
	"Emit",
	"Connect",
	"Changed",
	"Destroy",
	"InitObject",
	"ObjectDestroyed",
}

// typeInfo is the parsed representation of a Go struct embedding QObject:
// its properties, the methods that can be invoked by name and its signals.
type typeInfo struct {
	Name       string                `json:"name"`
	Properties map[string]string     `json:"properties"`
	Methods    map[string]methodInfo `json:"methods"`
	Signals    map[string]signalInfo `json:"signals"`

	propertyFieldIndex map[string][]int
}

type methodInfo struct {
	Args   []string `json:"args"`
	Return []string `json:"return"`
}

type signalInfo struct {
	Params []string `json:"params"`

	// Field holding the emitter; nil for implicit property change signals
	fieldIndex []int
	argTypes   []reflect.Type
}

var (
	knownTypeInfoMu sync.Mutex
	knownTypeInfo   = make(map[reflect.Type]*typeInfo)
)

var qobjInterfaceType = reflect.TypeOf((*QObject)(nil)).Elem()

func typeIsQObject(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(qobjInterfaceType)
}

func typeShouldIgnoreField(field reflect.StructField) bool {
	if field.PkgPath != "" && !field.Anonymous {
		// Unexported
		return true
	} else if field.Type.Kind() != reflect.Func && field.Tag.Get("qbridge") == "-" {
		return true
	} else if field.Name == "QObject" {
		return true
	}
	return false
}

func typeShouldIgnoreMethod(method reflect.Method) bool {
	if method.PkgPath != "" {
		// Unexported
		return true
	}

	for _, badName := range methodBlacklist {
		if method.Name == badName {
			return true
		}
	}

	return false
}

func lowerFirst(name string) string {
	if len(name) > 0 {
		name = strings.ToLower(name[:1]) + name[1:]
	}
	return name
}

func typeMethodName(method reflect.Method) string {
	return lowerFirst(method.Name)
}

// Equivalent to Value.MethodByName, but handling typeMethodName rules
func typeMethodValueByName(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		if method.Name == name || typeMethodName(method) == name {
			return v.Method(i)
		}
	}
	return reflect.Value{}
}

// typeFieldName is the lower camel case field name. Properties may be
// renamed with a `qbridge:"name"` tag; on signals the tag names parameters.
func typeFieldName(field reflect.StructField) string {
	name := lowerFirst(field.Name)
	if field.Type.Kind() != reflect.Func {
		if tag := field.Tag.Get("qbridge"); tag != "" {
			name = tag
		}
	}
	return name
}

func typeFieldChangedName(fieldName string) string {
	return fieldName + "Changed"
}

func typeInfoTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return typeInfoTypeName(t.Elem())

	case reflect.Bool:
		return "bool"

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"

	case reflect.Float32, reflect.Float64:
		return "double"

	case reflect.String:
		return "string"

	case reflect.Array, reflect.Slice:
		return "array"

	case reflect.Map:
		return "map"

	case reflect.Struct:
		if typeIsQObject(t) {
			return "object"
		}
		return "map"

	case reflect.Interface:
		if t.Implements(qobjInterfaceType) {
			return "object"
		}
		return "var"

	default:
		return "var"
	}
}

func parseType(t reflect.Type) (*typeInfo, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	knownTypeInfoMu.Lock()
	defer knownTypeInfoMu.Unlock()
	if typeInfo, exists := knownTypeInfo[t]; exists {
		return typeInfo, nil
	}

	if t.Kind() != reflect.Struct || !typeIsQObject(t) {
		return nil, fmt.Errorf("%w: type '%s'", ErrNotQObject, t.Name())
	}

	typeInfo := &typeInfo{
		Name:               t.Name(),
		Properties:         make(map[string]string),
		Methods:            make(map[string]methodInfo),
		Signals:            make(map[string]signalInfo),
		propertyFieldIndex: make(map[string][]int),
	}

	// Add properties and signals from fields, including those from anonymous
	// structs
	if err := typeFieldsToTypeInfo(typeInfo, t, []int{}); err != nil {
		return nil, err
	}

	// Create change signals for all properties, adopting explicit ones if they exist
	for name := range typeInfo.Properties {
		signalName := typeFieldChangedName(name)
		if signal, exists := typeInfo.Signals[signalName]; exists {
			if len(signal.Params) > 0 {
				return nil, fmt.Errorf("qbridge: signal '%s' is a property change signal, but has %d parameters", signalName, len(signal.Params))
			}
		} else {
			typeInfo.Signals[signalName] = signalInfo{}
		}
	}

	ptrType := reflect.PointerTo(t)
	for i := 0; i < ptrType.NumMethod(); i++ {
		method := ptrType.Method(i)
		if typeShouldIgnoreMethod(method) {
			continue
		}

		methodType := method.Type
		var info methodInfo
		for p := 1; p < methodType.NumIn(); p++ {
			info.Args = append(info.Args, typeInfoTypeName(methodType.In(p)))
		}
		for p := 0; p < methodType.NumOut(); p++ {
			info.Return = append(info.Return, typeInfoTypeName(methodType.Out(p)))
		}
		typeInfo.Methods[typeMethodName(method)] = info
	}

	knownTypeInfo[t] = typeInfo
	return typeInfo, nil
}

func typeFieldsToTypeInfo(typeInfo *typeInfo, t reflect.Type, index []int) error {
	var anonStructs []reflect.StructField

	numFields := t.NumField()
	for i := 0; i < numFields; i++ {
		field := t.Field(i)
		if typeShouldIgnoreField(field) {
			continue
		} else if field.Anonymous {
			at := field.Type
			if at.Kind() == reflect.Ptr {
				at = at.Elem()
			}
			if at.Kind() == reflect.Struct {
				// Recurse into these at the end for breadth-first
				anonStructs = append(anonStructs, field)
				continue
			}
			if field.PkgPath != "" {
				continue
			}
		}
		name := typeFieldName(field)
		fieldIndex := append(append([]int{}, index...), field.Index...)

		// Signals are represented by func fields, with a qbridge tag
		// giving a name for each parameter.
		if field.Type.Kind() == reflect.Func {
			if _, exists := typeInfo.Signals[name]; exists {
				continue
			}
			if field.Type.NumOut() > 0 {
				return fmt.Errorf("qbridge: signal '%s' must not return values", name)
			}
			paramNames := strings.Split(field.Tag.Get("qbridge"), ",")
			if field.Type.NumIn() > 0 && len(paramNames) != field.Type.NumIn() {
				return fmt.Errorf("qbridge: signal '%s' has %d parameters, but names %d; all parameters must be named in the `qbridge:` tag", name, field.Type.NumIn(), len(paramNames))
			}

			signal := signalInfo{fieldIndex: fieldIndex}
			for p := 0; p < field.Type.NumIn(); p++ {
				inType := field.Type.In(p)
				signal.Params = append(signal.Params, typeInfoTypeName(inType)+" "+paramNames[p])
				signal.argTypes = append(signal.argTypes, inType)
			}
			typeInfo.Signals[name] = signal
		} else if _, exists := typeInfo.Properties[name]; !exists {
			typeInfo.Properties[name] = typeInfoTypeName(field.Type)
			typeInfo.propertyFieldIndex[name] = fieldIndex
		}
	}

	for _, ast := range anonStructs {
		at := ast.Type
		if at.Kind() == reflect.Ptr {
			at = at.Elem()
		}
		if err := typeFieldsToTypeInfo(typeInfo, at, append(append([]int{}, index...), ast.Index...)); err != nil {
			return err
		}
	}
	return nil
}

// methodName resolves a method given by its Go name or its lower camel case
// name.
func (t *typeInfo) methodName(name string) (string, bool) {
	if _, exists := t.Methods[name]; exists {
		return name, true
	}
	name = lowerFirst(name)
	_, exists := t.Methods[name]
	return name, exists
}

func (t *typeInfo) String() string {
	str, _ := json.MarshalIndent(t, "", "  ")
	return string(str)
}
