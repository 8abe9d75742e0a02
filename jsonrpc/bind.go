package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

type bindMode int

const (
	bindPositional bindMode = iota
	bindStruct
	bindMap
)

// structField is a field of a named-params struct.
type structField struct {
	index    int
	name     string
	optional bool
}

// prepareBinding fixes how params are bound to args.
func (d *HandlerDescriptor) prepareBinding(args []reflect.Type, names []string) error {
	switch {
	case len(args) == 1 && !d.variadic && args[0].Kind() == reflect.Struct:
		d.mode = bindStruct
		return d.prepareStruct(args[0])
	case len(args) == 1 && !d.variadic && args[0].Kind() == reflect.Map && args[0].Key().Kind() == reflect.String:
		d.mode = bindMap
		d.params = []Parameter{{Name: "kwargs", HasDefault: true, Type: args[0]}}
		return nil
	}

	d.mode = bindPositional
	if names != nil && len(names) != len(args) {
		return fmt.Errorf("%d param names for %d params", len(names), len(args))
	}
	for i, t := range args {
		switch t.Kind() {
		case reflect.Chan, reflect.Func, reflect.UnsafePointer:
			return fmt.Errorf("param %d has unsupported type %s", i, t)
		}
		name := fmt.Sprintf("arg%d", i)
		if names != nil {
			name = names[i]
		}
		last := i == len(args)-1
		optional := t.Kind() == reflect.Pointer || (last && d.variadic)
		d.params = append(d.params, Parameter{Name: name, HasDefault: optional, Type: t})
	}
	// Without names the params can only be bound by position.
	d.namedPositional = names != nil
	return nil
}

func (d *HandlerDescriptor) prepareStruct(t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Name == "_" || !field.IsExported() {
			continue
		}
		name := field.Name
		optional := field.Type.Kind() == reflect.Pointer
		if tag := field.Tag.Get("json"); tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" || opt == "omitzero" {
					optional = true
				}
			}
		}
		d.fields = append(d.fields, structField{index: i, name: name, optional: optional})
		d.params = append(d.params, Parameter{Name: name, HasDefault: optional, Type: field.Type})
	}
	return nil
}

// paramsKind returns '[' or '{' for arrays and objects and 0 when params
// are absent.
func paramsKind(params json.RawMessage) byte {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func invalidParams(format string, args ...any) *JSONRPCError {
	return NewError(CodeInvalidParams, CodeMessage(CodeInvalidParams)+": "+fmt.Sprintf(format, args...))
}

// bind converts params into the handler's arguments, excluding any context.
// Failures are INVALID_PARAMS errors whose text never includes Go types.
func (d *HandlerDescriptor) bind(codec Codec, params json.RawMessage) ([]reflect.Value, error) {
	switch d.mode {
	case bindStruct:
		return d.bindStruct(codec, params)
	case bindMap:
		return d.bindMap(codec, params)
	default:
		return d.bindPositional(codec, params)
	}
}

func (d *HandlerDescriptor) bindPositional(codec Codec, params json.RawMessage) ([]reflect.Value, error) {
	switch paramsKind(params) {
	case 0:
		return d.bindArray(codec, nil)
	case '[':
		var elems []json.RawMessage
		if err := codec.Unmarshal(params, &elems); err != nil {
			return nil, invalidParams("params must be an array or object")
		}
		return d.bindArray(codec, elems)
	case '{':
		var members map[string]json.RawMessage
		if err := codec.Unmarshal(params, &members); err != nil {
			return nil, invalidParams("params must be an array or object")
		}
		if d.namedPositional {
			return d.bindObject(codec, members)
		}
		// An empty object means no params when none are required.
		if len(members) == 0 && d.allOptional() {
			return d.bindArray(codec, nil)
		}
		return nil, invalidParams("params must be passed by position")
	default:
		return nil, invalidParams("params must be an array or object")
	}
}

func (d *HandlerDescriptor) allOptional() bool {
	for _, p := range d.params {
		if !p.HasDefault {
			return false
		}
	}
	return true
}

func (d *HandlerDescriptor) bindArray(codec Codec, elems []json.RawMessage) ([]reflect.Value, error) {
	fixed := len(d.params)
	if d.variadic {
		fixed--
	}
	if !d.variadic && len(elems) > fixed {
		return nil, invalidParams("expected at most %d params, got %d", fixed, len(elems))
	}
	args := make([]reflect.Value, 0, len(d.params))
	for i := 0; i < fixed; i++ {
		p := d.params[i]
		if i >= len(elems) {
			if !p.HasDefault {
				return nil, invalidParams("missing param %s", p.Name)
			}
			args = append(args, reflect.Zero(p.Type))
			continue
		}
		v, err := decodeInto(codec, elems[i], p.Type)
		if err != nil {
			return nil, invalidParams("param %s has the wrong type", p.Name)
		}
		args = append(args, v)
	}
	if d.variadic {
		p := d.params[fixed]
		rest := elems[min(fixed, len(elems)):]
		slice := reflect.MakeSlice(p.Type, 0, len(rest))
		for i, raw := range rest {
			v, err := decodeInto(codec, raw, p.Type.Elem())
			if err != nil {
				return nil, invalidParams("param %s[%d] has the wrong type", p.Name, i)
			}
			slice = reflect.Append(slice, v)
		}
		args = append(args, slice)
	}
	return args, nil
}

func (d *HandlerDescriptor) bindObject(codec Codec, members map[string]json.RawMessage) ([]reflect.Value, error) {
	if err := d.rejectUnknown(members); err != nil {
		return nil, err
	}
	args := make([]reflect.Value, 0, len(d.params))
	for i, p := range d.params {
		raw, ok := members[p.Name]
		if !ok {
			if !p.HasDefault {
				return nil, invalidParams("missing param %s", p.Name)
			}
			if d.variadic && i == len(d.params)-1 {
				args = append(args, reflect.MakeSlice(p.Type, 0, 0))
			} else {
				args = append(args, reflect.Zero(p.Type))
			}
			continue
		}
		v, err := decodeInto(codec, raw, p.Type)
		if err != nil {
			return nil, invalidParams("param %s has the wrong type", p.Name)
		}
		args = append(args, v)
	}
	return args, nil
}

func (d *HandlerDescriptor) bindStruct(codec Codec, params json.RawMessage) ([]reflect.Value, error) {
	st := d.fn.Type().In(d.argOffset())
	param := reflect.New(st).Elem()

	switch paramsKind(params) {
	case 0:
		if err := d.checkRequired(nil, 0); err != nil {
			return nil, err
		}
	case '[':
		// Positional params: array elements map to struct fields by declaration order.
		var elems []json.RawMessage
		if err := codec.Unmarshal(params, &elems); err != nil {
			return nil, invalidParams("params must be an array or object")
		}
		if len(elems) > len(d.fields) {
			return nil, invalidParams("expected at most %d params, got %d", len(d.fields), len(elems))
		}
		for i, raw := range elems {
			f := d.fields[i]
			if err := codec.Unmarshal(raw, param.Field(f.index).Addr().Interface()); err != nil {
				return nil, invalidParams("param %s has the wrong type", f.name)
			}
		}
		if err := d.checkRequired(nil, len(elems)); err != nil {
			return nil, err
		}
	case '{':
		// Named params: object members map to struct fields by json tags.
		var members map[string]json.RawMessage
		if err := codec.Unmarshal(params, &members); err != nil {
			return nil, invalidParams("params must be an array or object")
		}
		if err := d.rejectUnknown(members); err != nil {
			return nil, err
		}
		for _, f := range d.fields {
			raw, ok := members[f.name]
			if !ok {
				continue
			}
			if err := codec.Unmarshal(raw, param.Field(f.index).Addr().Interface()); err != nil {
				return nil, invalidParams("param %s has the wrong type", f.name)
			}
		}
		if err := d.checkRequired(members, 0); err != nil {
			return nil, err
		}
	default:
		return nil, invalidParams("params must be an array or object")
	}
	return []reflect.Value{param}, nil
}

// checkRequired verifies that every required struct field was supplied,
// either as a member or as one of the first n positional params.
func (d *HandlerDescriptor) checkRequired(members map[string]json.RawMessage, n int) error {
	for i, f := range d.fields {
		if f.optional || i < n {
			continue
		}
		if _, ok := members[f.name]; ok {
			continue
		}
		return invalidParams("missing param %s", f.name)
	}
	return nil
}

func (d *HandlerDescriptor) bindMap(codec Codec, params json.RawMessage) ([]reflect.Value, error) {
	mt := d.params[0].Type
	switch paramsKind(params) {
	case 0:
		return []reflect.Value{reflect.MakeMap(mt)}, nil
	case '[':
		var elems []json.RawMessage
		if err := codec.Unmarshal(params, &elems); err != nil || len(elems) != 0 {
			return nil, invalidParams("params must be passed by name")
		}
		return []reflect.Value{reflect.MakeMap(mt)}, nil
	case '{':
		m := reflect.New(mt)
		if err := codec.Unmarshal(params, m.Interface()); err != nil {
			return nil, invalidParams("params have the wrong type")
		}
		if m.Elem().IsNil() {
			return []reflect.Value{reflect.MakeMap(mt)}, nil
		}
		return []reflect.Value{m.Elem()}, nil
	default:
		return nil, invalidParams("params must be an array or object")
	}
}

func (d *HandlerDescriptor) rejectUnknown(members map[string]json.RawMessage) error {
	for key := range members {
		if !slices.ContainsFunc(d.params, func(p Parameter) bool { return p.Name == key }) {
			return invalidParams("unexpected param %s", key)
		}
	}
	return nil
}

func (d *HandlerDescriptor) argOffset() int {
	if d.ctxParam != nil {
		return 1
	}
	return 0
}

var errNullParam = errors.New("null for non-nullable param")

// decodeInto unmarshals raw into a new value of type t. JSON null is only
// accepted for types that have a nil value.
func decodeInto(codec Codec, raw json.RawMessage, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := codec.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	if bytes.Equal(bytes.TrimSpace(raw), nullJSON) && !nullable(t) {
		return reflect.Value{}, errNullParam
	}
	return ptr.Elem(), nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	default:
		return false
	}
}
