package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"mqtt-call/future"
)

// ExportPrefix marks handler methods that are callable remotely.
// ExportReadTemperature is exposed as "readTemperature".
const ExportPrefix = "Export"

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	futureType  = reflect.TypeOf((*future.Future)(nil))
	paramsType  = reflect.TypeOf(Params(nil))
)

type methodType struct {
	name    string
	rcvr    reflect.Value
	method  reflect.Method
	ArgType reflect.Type // nil when the method takes no params
}

// scan walks rcvr's method set and keeps methods that carry the export prefix
// and have one of the accepted shapes:
//
//	func(ctx) (R, error)            func(ctx, *Args) (R, error)
//	func(ctx) error                 func(ctx, *Args) error
//	func(ctx) *future.Future        func(ctx, *Args) *future.Future
//
// Args may also be Params to receive the raw named arguments.
func scan(rcvr any) ([]*methodType, error) {
	if rcvr == nil {
		return nil, fmt.Errorf("service: nil handler")
	}
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("service: handler must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("service: handler must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)

	var methods []*methodType
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		name, ok := exportedName(method.Name)
		if !ok {
			continue
		}
		mt, ok := checkSignature(method)
		if !ok {
			continue
		}
		mt.name = name
		mt.rcvr = val
		methods = append(methods, mt)
	}
	return methods, nil
}

func exportedName(methodName string) (string, bool) {
	rest, ok := strings.CutPrefix(methodName, ExportPrefix)
	if !ok || rest == "" {
		return "", false
	}
	r, size := utf8.DecodeRuneInString(rest)
	return string(unicode.ToLower(r)) + rest[size:], true
}

func checkSignature(method reflect.Method) (*methodType, bool) {
	mtype := method.Type
	// In(0) is the receiver.
	if mtype.NumIn() < 2 || mtype.NumIn() > 3 || mtype.In(1) != contextType {
		return nil, false
	}
	mt := &methodType{method: method}
	if mtype.NumIn() == 3 {
		arg := mtype.In(2)
		switch {
		case arg == paramsType:
		case arg.Kind() == reflect.Ptr && arg.Elem().Kind() == reflect.Struct:
		default:
			return nil, false
		}
		mt.ArgType = arg
	}
	switch mtype.NumOut() {
	case 1:
		out := mtype.Out(0)
		if out != futureType && out != errorType {
			return nil, false
		}
	case 2:
		if mtype.Out(1) != errorType {
			return nil, false
		}
	default:
		return nil, false
	}
	return mt, true
}

// invoker binds the method to its receiver.
func (m *methodType) invoker() Invoker {
	return func(ctx context.Context, params Params) (f *future.Future) {
		defer func() {
			if r := recover(); r != nil {
				f = future.Rejected(future.Panicked(r))
			}
		}()
		args := [3]reflect.Value{m.rcvr, reflect.ValueOf(ctx)}
		n := 2
		if m.ArgType != nil {
			argv, err := m.decodeArgs(params)
			if err != nil {
				return future.Rejected(err)
			}
			args[2] = argv
			n = 3
		} else if len(params) > 0 {
			return future.Rejected(fmt.Errorf("%s() takes no params but %d were given", m.name, len(params)))
		}
		return m.collect(m.method.Func.Call(args[:n]))
	}
}

func (m *methodType) decodeArgs(params Params) (reflect.Value, error) {
	if m.ArgType == paramsType {
		if params == nil {
			params = Params{}
		}
		return reflect.ValueOf(params), nil
	}
	argv := reflect.New(m.ArgType.Elem())
	raw, err := json.Marshal(params)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s(): %w", m.name, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(argv.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("%s(): invalid params: %w", m.name, err)
	}
	return argv, nil
}

func (m *methodType) collect(results []reflect.Value) *future.Future {
	last := results[len(results)-1]
	if len(results) == 1 {
		if last.Type() == futureType {
			if last.IsNil() {
				return future.Resolved(nil)
			}
			return last.Interface().(*future.Future)
		}
		// error only
		if !last.IsNil() {
			return future.Rejected(last.Interface().(error))
		}
		return future.Resolved(nil)
	}
	if !last.IsNil() {
		return future.Rejected(last.Interface().(error))
	}
	return future.Resolved(results[0].Interface())
}
