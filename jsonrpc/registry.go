package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	contextType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	rpcContextType = reflect.TypeOf((*Context)(nil))
)

// ErrInvalidHandler is returned by the Register functions for handlers
// whose signature cannot be called by the dispatcher.
var ErrInvalidHandler = errors.New("jsonrpc: invalid handler")

// ErrInvalidName is returned for empty method names and names longer
// than the method name limit.
var ErrInvalidName = errors.New("jsonrpc: invalid method name")

// Registry maps an owner type and a method name to a [*HandlerDescriptor].
//
// Owners are identified by their dynamic Go type, so every value of a
// consumer type shares one method table and a table never keeps an owner
// value alive. Lookups read an immutable snapshot and take no lock;
// registrations copy the affected table under a mutex and publish a new
// snapshot.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[registryTables]
	cfg     *Config
}

type methodTable map[string]*HandlerDescriptor

type registryTables struct {
	methods       map[reflect.Type]methodTable
	notifications map[reflect.Type]methodTable
}

// NewRegistry creates an empty registry. A nil cfg uses [NewConfig].
func NewRegistry(cfg *Config) *Registry {
	if cfg == nil {
		cfg = NewConfig()
	}
	r := &Registry{cfg: cfg}
	r.current.Store(&registryTables{
		methods:       map[reflect.Type]methodTable{},
		notifications: map[reflect.Type]methodTable{},
	})
	return r
}

// Owner returns the registry key for owner. Passing a reflect.Type uses it
// directly.
func Owner(owner any) reflect.Type {
	if t, ok := owner.(reflect.Type); ok {
		return t
	}
	return reflect.TypeOf(owner)
}

// Register adds fn as the call handler for name on owner's type.
//
// fn may take a *Context or context.Context first, followed by either
// positional parameters, a single struct whose fields are the named
// params, or a single map[string]T that receives all named params. It
// returns nothing, a result, an error, or a result and an error.
//
// Registering a name twice replaces the earlier handler.
func (r *Registry) Register(owner any, name string, fn any, opts ...Option) error {
	return r.register(owner, name, fn, false, opts)
}

// RegisterNotification adds fn as the notification handler for name.
// Notifications look here first and fall back to call handlers.
func (r *Registry) RegisterNotification(owner any, name string, fn any, opts ...Option) error {
	return r.register(owner, name, fn, true, opts)
}

// RegisterService registers the exported methods of rcvr that have a valid
// handler signature. The namespace prefixes all method names
// ("math" + "Add" -> "math.Add"); use "" for no namespace. A struct
// parameter with a blank field tagged `jsonrpc:"name"` overrides the
// method name. Methods with other signatures are skipped.
func (r *Registry) RegisterService(owner any, namespace string, rcvr any, opts ...Option) error {
	val := reflect.ValueOf(rcvr)
	typ := val.Type()
	registered := 0
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		fn := val.Method(i).Interface()
		if _, err := newDescriptor(method.Name, fn, false, options{}); err != nil {
			continue
		}
		name := methodName(method)
		if namespace != "" {
			name = namespace + "." + name
		}
		if err := r.register(owner, name, fn, false, opts); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("%w: %s has no exported handler methods", ErrInvalidHandler, typ)
	}
	return nil
}

// methodName returns the method name, overridden by the jsonrpc tag on a
// blank field of a struct parameter.
func methodName(method reflect.Method) string {
	ft := method.Type
	for i := 1; i < ft.NumIn(); i++ {
		pt := ft.In(i)
		if pt.Kind() != reflect.Struct {
			continue
		}
		for j := 0; j < pt.NumField(); j++ {
			field := pt.Field(j)
			if field.Name == "_" {
				if tag := field.Tag.Get("jsonrpc"); tag != "" {
					return tag
				}
			}
		}
	}
	return method.Name
}

func (r *Registry) register(owner any, name string, fn any, notification bool, opts []Option) error {
	key := Owner(owner)
	if key == nil {
		return errors.New("jsonrpc: nil owner")
	}
	if name == "" || r.cfg.Limits.CheckMethodName(name) != nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	o := options{transports: TransportAny}
	for _, opt := range opts {
		opt(&o)
	}
	d, err := newDescriptor(name, fn, notification, o)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidHandler, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current.Load()
	next := &registryTables{methods: old.methods, notifications: old.notifications}
	tables := &next.methods
	if notification {
		tables = &next.notifications
	}
	outer := make(map[reflect.Type]methodTable, len(*tables)+1)
	for k, v := range *tables {
		outer[k] = v
	}
	inner := make(methodTable, len(outer[key])+1)
	for k, v := range outer[key] {
		inner[k] = v
	}
	if _, exists := inner[name]; exists {
		r.cfg.Logger.Warn("jsonrpc: replacing registered handler",
			"owner", key.String(), "method", name, "notification", notification)
	}
	inner[name] = d
	outer[key] = inner
	*tables = outer
	r.current.Store(next)
	return nil
}

// Resolve returns the call handler registered for name on owner's type.
func (r *Registry) Resolve(owner any, name string) (*HandlerDescriptor, bool) {
	d, ok := r.current.Load().methods[Owner(owner)][name]
	return d, ok
}

// ResolveNotification returns the notification handler for name, falling
// back to the call handler.
func (r *Registry) ResolveNotification(owner any, name string) (*HandlerDescriptor, bool) {
	if d, ok := r.current.Load().notifications[Owner(owner)][name]; ok {
		return d, true
	}
	return r.Resolve(owner, name)
}

// List returns the call handlers of owner's type sorted by name.
func (r *Registry) List(owner any) []*HandlerDescriptor {
	return sortedDescriptors(r.current.Load().methods[Owner(owner)])
}

// ListNotifications returns the notification handlers sorted by name.
func (r *Registry) ListNotifications(owner any) []*HandlerDescriptor {
	return sortedDescriptors(r.current.Load().notifications[Owner(owner)])
}

func sortedDescriptors(table methodTable) []*HandlerDescriptor {
	out := make([]*HandlerDescriptor, 0, len(table))
	for _, d := range table {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *HandlerDescriptor) int { return strings.Compare(a.name, b.name) })
	return out
}

// Option configures a registered handler.
type Option func(*options)

type options struct {
	transports Transport
	timeout    *time.Duration
	perms      []string
	paramNames []string
	doc        string
}

// WithTransports restricts the transports a handler can be called over.
func WithTransports(t Transport) Option {
	return func(o *options) { o.transports = t }
}

// WithTimeout overrides [Config.HandlerTimeout]. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = &d }
}

// WithPermissions requires the connection's [Principal] to be
// authenticated and to hold perms. Callers without them get a
// method-not-found error.
func WithPermissions(perms ...string) Option {
	return func(o *options) { o.perms = append(o.perms, perms...) }
}

// WithParamNames names positional parameters so they can also be passed
// by name in a params object.
func WithParamNames(names ...string) Option {
	return func(o *options) { o.paramNames = names }
}

// WithDoc sets the description reported by introspection.
func WithDoc(doc string) Option {
	return func(o *options) { o.doc = strings.TrimSpace(doc) }
}

// Parameter describes one bindable handler parameter.
type Parameter struct {
	Name       string
	HasDefault bool
	Type       reflect.Type
}

// HandlerDescriptor is the calling convention of a registered handler,
// computed once at registration. It is immutable.
type HandlerDescriptor struct {
	name            string
	fn              reflect.Value
	ctxParam        reflect.Type // nil when fn takes no context
	mode            bindMode
	params          []Parameter
	fields          []structField // bindStruct only
	namedPositional bool
	variadic        bool
	resultIndex     int // -1 when fn returns no result
	errorIndex      int // -1 when fn returns no error
	notification    bool
	transports      Transport
	timeout         *time.Duration
	perms           []string
	doc             string
}

func (d *HandlerDescriptor) Name() string { return d.name }

// AcceptsContext reports whether the handler takes a context first.
func (d *HandlerDescriptor) AcceptsContext() bool { return d.ctxParam != nil }

// AcceptsVarKeyword reports whether the handler receives all named params
// as a map.
func (d *HandlerDescriptor) AcceptsVarKeyword() bool { return d.mode == bindMap }

// Parameters returns the bindable parameters in order.
func (d *HandlerDescriptor) Parameters() []Parameter { return slices.Clone(d.params) }

func (d *HandlerDescriptor) Transports() Transport { return d.transports }
func (d *HandlerDescriptor) Permissions() []string { return slices.Clone(d.perms) }
func (d *HandlerDescriptor) Doc() string           { return d.doc }
func (d *HandlerDescriptor) IsNotification() bool  { return d.notification }

// Timeout returns the handler's own timeout, if it was registered with one.
func (d *HandlerDescriptor) Timeout() (time.Duration, bool) {
	if d.timeout == nil {
		return 0, false
	}
	return *d.timeout, true
}

// Signature returns a readable rendering of the bindable parameters.
func (d *HandlerDescriptor) Signature() string {
	parts := make([]string, 0, len(d.params))
	for _, p := range d.params {
		s := p.Name + " " + p.Type.String()
		if p.HasDefault {
			s += "?"
		}
		parts = append(parts, s)
	}
	return d.name + "(" + strings.Join(parts, ", ") + ")"
}

// signature is the part of a handler's calling convention derived from
// its function type alone.
type signature struct {
	ctxParam    reflect.Type
	args        []reflect.Type
	variadic    bool
	resultIndex int
	errorIndex  int
}

func analyze(fn reflect.Value) (*signature, error) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, errors.New("not a function")
	}
	ft := fn.Type()
	sig := &signature{resultIndex: -1, errorIndex: -1, variadic: ft.IsVariadic()}
	first := 0
	if ft.NumIn() > 0 && (ft.In(0) == rpcContextType || ft.In(0) == contextType) {
		sig.ctxParam = ft.In(0)
		first = 1
	}
	for i := first; i < ft.NumIn(); i++ {
		sig.args = append(sig.args, ft.In(i))
	}
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			sig.errorIndex = 0
		} else {
			sig.resultIndex = 0
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, errors.New("second result must be error")
		}
		sig.resultIndex, sig.errorIndex = 0, 1
	default:
		return nil, errors.New("too many results")
	}
	return sig, nil
}

func newDescriptor(name string, fn any, notification bool, o options) (*HandlerDescriptor, error) {
	val := reflect.ValueOf(fn)
	sig, err := analyze(val)
	if err != nil {
		return nil, err
	}
	d := &HandlerDescriptor{
		name:         name,
		fn:           val,
		ctxParam:     sig.ctxParam,
		variadic:     sig.variadic,
		resultIndex:  sig.resultIndex,
		errorIndex:   sig.errorIndex,
		notification: notification,
		transports:   o.transports,
		timeout:      o.timeout,
		perms:        slices.Clone(o.perms),
		doc:          o.doc,
	}
	if err := d.prepareBinding(sig.args, o.paramNames); err != nil {
		return nil, err
	}
	return d, nil
}
