package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed core.json
var coreDescriptor []byte

type descriptorFile struct {
	Domains []descriptorDomain `json:"domains"`
}

type descriptorDomain struct {
	Domain   string              `json:"domain"`
	Types    []descriptorType    `json:"types"`
	Commands []descriptorCommand `json:"commands"`
	Events   []descriptorEvent   `json:"events"`
}

type descriptorType struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Enum []string `json:"enum"`
}

type descriptorCommand struct {
	Name       string            `json:"name"`
	Parameters []descriptorParam `json:"parameters"`
	Returns    []descriptorParam `json:"returns"`
}

type descriptorEvent struct {
	Name       string            `json:"name"`
	Parameters []descriptorParam `json:"parameters"`
}

type descriptorParam struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Ref      string `json:"$ref"`
	Optional bool   `json:"optional"`
}

// LoadDescriptor populates reg from a JSON protocol descriptor in the
// browser_protocol.json layout.
func LoadDescriptor(r io.Reader, reg *Registry) error {
	var file descriptorFile
	dec := json.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("schema: decode descriptor: %w", err)
	}

	types := make(map[string]string)
	for _, d := range file.Domains {
		for _, t := range d.Types {
			types[d.Domain+"."+t.ID] = t.Type
		}
	}

	commands, events := 0, 0
	for _, d := range file.Domains {
		for _, t := range d.Types {
			if len(t.Enum) == 0 {
				continue
			}
			values := make(map[string]string, len(t.Enum))
			for _, v := range t.Enum {
				values[EnumKey(v)] = v
			}
			if err := reg.RegisterEnum(d.Domain+"."+t.ID, values); err != nil {
				return err
			}
		}
		for _, c := range d.Commands {
			params := make([]Param, 0, len(c.Parameters))
			for _, p := range c.Parameters {
				params = append(params, Param{
					Name:     p.Name,
					Type:     normalizeType(d.Domain, p, types),
					Optional: p.Optional,
				})
			}
			replies := make([]string, 0, len(c.Returns))
			for _, ret := range c.Returns {
				replies = append(replies, ret.Name)
			}
			if err := reg.RegisterCommand(d.Domain+"."+c.Name, params, replies); err != nil {
				return err
			}
			commands++
		}
		for _, e := range d.Events {
			names := make([]string, 0, len(e.Parameters))
			for _, p := range e.Parameters {
				names = append(names, p.Name)
			}
			if err := reg.RegisterEvent(d.Domain+"."+e.Name, names); err != nil {
				return err
			}
			events++
		}
	}
	log.Debug().
		Int("domains", len(file.Domains)).
		Int("commands", commands).
		Int("events", events).
		Msg("schema: descriptor loaded")
	return nil
}

func LoadDescriptorFile(path string, reg *Registry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("schema: open descriptor: %w", err)
	}
	defer f.Close()
	return LoadDescriptor(f, reg)
}

// LoadCore populates reg from the built-in descriptor covering the Target,
// Page, Runtime, DOM, CSS, Network and Debugger domains.
func LoadCore(reg *Registry) error {
	return LoadDescriptor(bytes.NewReader(coreDescriptor), reg)
}

// normalizeType maps a descriptor type onto a runtime type tag. integer
// becomes number and $ref is resolved through the declared types, falling
// back to object for refs that are not declared.
func normalizeType(domain string, p descriptorParam, types map[string]string) string {
	raw := p.Type
	if raw == "" && p.Ref != "" {
		ref := p.Ref
		if !strings.Contains(ref, ".") {
			ref = domain + "." + ref
		}
		raw = types[ref]
		if raw == "" {
			raw = TypeObject
		}
	}
	switch raw {
	case "integer", TypeNumber:
		return TypeNumber
	case TypeString, TypeBoolean, TypeArray, TypeAny:
		return raw
	case "":
		return TypeAny
	default:
		return TypeObject
	}
}

// EnumKey converts an enum wire value such as "first-line" into its key
// form "FirstLine".
func EnumKey(value string) string {
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
