package schema

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/cdpwire/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	ErrRegistrySealed = errors.New("schema: registry is sealed")
	ErrInvalidDomain  = errors.New("schema: invalid domain name")
	ErrDuplicate      = errors.New("schema: duplicate registration")
)

// Param is one entry of a command's ordered parameter schema. Type is one of
// number, string, boolean, object, array or any.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// Command is the immutable call record for one qualified command name.
type Command struct {
	Name      string
	Domain    string
	Method    string
	Params    []Param
	ReplyArgs []string
}

// Domain groups the commands and events of one protocol domain. Events maps an
// unqualified event name to its parameter names.
type Domain struct {
	Name     string
	Commands map[string]*Command
	Events   map[string][]string
}

// HasEvent reports whether the unqualified event name is registered.
func (d *Domain) HasEvent(name string) bool {
	_, ok := d.Events[name]
	return ok
}

type ValidationError struct {
	Method string
	Param  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("schema: method=%s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("schema: method=%s param=%s: %s", e.Method, e.Param, e.Reason)
}

// Registry holds every known domain. It is populated once at startup and
// sealed before targets are built; after Seal it is safe for concurrent reads.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*Domain
	enums   map[string]map[string]string
	sealed  bool
}

func NewRegistry() *Registry {
	return &Registry{
		domains: make(map[string]*Domain),
		enums:   make(map[string]map[string]string),
	}
}

// RegisterCommand records the parameter schema and reply fields for a
// qualified command name such as "DOM.getBoxModel".
func (r *Registry) RegisterCommand(name string, params []Param, replyArgs []string) error {
	domain, method, err := protocol.SplitQualifiedName(name)
	if err != nil {
		return err
	}
	for _, p := range params {
		if p.Name == "" {
			return ValidationError{Method: name, Reason: "parameter without name"}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.domainLocked(domain)
	if err != nil {
		return err
	}
	if _, ok := d.Commands[method]; ok {
		return fmt.Errorf("%w: command %s", ErrDuplicate, name)
	}
	d.Commands[method] = &Command{
		Name:      name,
		Domain:    domain,
		Method:    method,
		Params:    slices.Clone(params),
		ReplyArgs: slices.Clone(replyArgs),
	}
	log.Trace().Str("method", name).Int("params", len(params)).Msg("schema: command registered")
	return nil
}

// RegisterEvent records the parameter names of a qualified event name.
func (r *Registry) RegisterEvent(name string, paramNames []string) error {
	domain, method, err := protocol.SplitQualifiedName(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.domainLocked(domain)
	if err != nil {
		return err
	}
	if _, ok := d.Events[method]; ok {
		return fmt.Errorf("%w: event %s", ErrDuplicate, name)
	}
	d.Events[method] = slices.Clone(paramNames)
	return nil
}

// RegisterEnum records a named value map for a qualified type name such as
// "DOM.PseudoType". Re-registering a name replaces the previous map.
func (r *Registry) RegisterEnum(name string, values map[string]string) error {
	domain, _, err := protocol.SplitQualifiedName(name)
	if err != nil {
		return err
	}
	if !isValidDomain(domain) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	r.enums[name] = copied
	return nil
}

// Seal freezes the registry. Later registrations fail with ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) Domain(name string) (*Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[name]
	return d, ok
}

// Domains returns the registered domain names in sorted order.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	names := lo.Keys(r.domains)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

func (r *Registry) Command(qualified string) (*Command, bool) {
	domain, method, err := protocol.SplitQualifiedName(qualified)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[domain]
	if !ok {
		return nil, false
	}
	cmd, ok := d.Commands[method]
	return cmd, ok
}

func (r *Registry) Enum(name string) (map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	values, ok := r.enums[name]
	return values, ok
}

func (r *Registry) domainLocked(name string) (*Domain, error) {
	if r.sealed {
		return nil, ErrRegistrySealed
	}
	if d, ok := r.domains[name]; ok {
		return d, nil
	}
	if !isValidDomain(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, name)
	}
	d := &Domain{
		Name:     name,
		Commands: make(map[string]*Command),
		Events:   make(map[string][]string),
	}
	r.domains[name] = d
	return d, nil
}

// Domain names are identifiers starting with an ASCII letter.
func isValidDomain(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if i == 0 && !isLetter {
			return false
		}
		if !(isLetter || isDigit || c == '_') {
			return false
		}
	}
	return true
}
