package jsonrpc

// MethodInfo is the introspection view of a registered handler.
type MethodInfo struct {
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Params         []ParamInfo `json:"params"`
	AcceptsContext bool        `json:"acceptsContext"`
	Transports     []string    `json:"transports"`
	Permissions    []string    `json:"permissions,omitempty"`
	TimeoutSeconds *float64    `json:"timeoutSeconds,omitempty"`
	Notification   bool        `json:"notification,omitempty"`
}

// ParamInfo describes one parameter of a [MethodInfo].
type ParamInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// APIDescription lists the methods and notifications of one owner type.
type APIDescription struct {
	Methods       []MethodInfo `json:"methods"`
	Notifications []MethodInfo `json:"notifications"`
}

// Info returns the introspection view of d.
func (d *HandlerDescriptor) Info() MethodInfo {
	info := MethodInfo{
		Name:           d.name,
		Description:    d.doc,
		Params:         make([]ParamInfo, 0, len(d.params)),
		AcceptsContext: d.AcceptsContext(),
		Transports:     []string{},
		Permissions:    d.Permissions(),
		Notification:   d.notification,
	}
	for _, p := range d.params {
		info.Params = append(info.Params, ParamInfo{Name: p.Name, Type: p.Type.String(), Required: !p.HasDefault})
	}
	if d.transports&TransportWebSocket != 0 {
		info.Transports = append(info.Transports, TransportNameWebSocket)
	}
	if d.transports&TransportHTTP != 0 {
		info.Transports = append(info.Transports, TransportNameHTTP)
	}
	if timeout, ok := d.Timeout(); ok {
		seconds := timeout.Seconds()
		info.TimeoutSeconds = &seconds
	}
	return info
}

// MethodInfo returns the introspection view of the call handler for name.
func (r *Registry) MethodInfo(owner any, name string) (MethodInfo, bool) {
	d, ok := r.Resolve(owner, name)
	if !ok {
		return MethodInfo{}, false
	}
	return d.Info(), true
}

// Describe returns every handler of owner's type, sorted by name. Names
// starting with an underscore are private and left out.
func (r *Registry) Describe(owner any) APIDescription {
	desc := APIDescription{Methods: []MethodInfo{}, Notifications: []MethodInfo{}}
	for _, d := range r.List(owner) {
		if !isPrivate(d.name) {
			desc.Methods = append(desc.Methods, d.Info())
		}
	}
	for _, d := range r.ListNotifications(owner) {
		if !isPrivate(d.name) {
			desc.Notifications = append(desc.Notifications, d.Info())
		}
	}
	return desc
}

func isPrivate(name string) bool {
	return len(name) > 0 && name[0] == '_'
}
