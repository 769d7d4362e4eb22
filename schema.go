package svcl

// Schema is the serializable outline of a program used by introspection tools.
type Schema struct {
	Server    *ServerSchema    `json:"server,omitempty"`
	Imports   []string         `json:"imports,omitempty"`
	Endpoints []EndpointSchema `json:"endpoints"`
	Functions []FunctionSchema `json:"functions"`
	Classes   []ClassSchema    `json:"classes"`
	Models    []ModelSchema    `json:"models"`
}

type ServerSchema struct {
	Port int  `json:"port"`
	TLS  bool `json:"tls"`
}

type EndpointSchema struct {
	Method     string   `json:"method"`
	Path       string   `json:"path"`
	BodyKind   string   `json:"bodyKind"`
	PathParams []string `json:"pathParams,omitempty"`
}

type FunctionSchema struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

type ClassSchema struct {
	Name    string           `json:"name"`
	Methods []FunctionSchema `json:"methods"`
}

type FieldSchema struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Optional   bool   `json:"optional,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
}

type ModelSchema struct {
	Name   string        `json:"name"`
	Table  string        `json:"table"`
	Fields []FieldSchema `json:"fields"`
}

// BuildSchema lists endpoints in declaration order and named declarations sorted by name.
func BuildSchema(program *Program) Schema {
	schema := Schema{
		Endpoints: []EndpointSchema{},
		Functions: []FunctionSchema{},
		Classes:   []ClassSchema{},
		Models:    []ModelSchema{},
	}
	if program == nil {
		return schema
	}
	if program.Server != nil {
		schema.Server = &ServerSchema{Port: program.Server.Port, TLS: program.Server.TLS}
	}
	for _, imp := range program.Imports {
		schema.Imports = append(schema.Imports, imp.Path)
	}
	for _, ep := range program.Endpoints {
		schema.Endpoints = append(schema.Endpoints, EndpointSchema{
			Method:     string(ep.Method),
			Path:       ep.Path,
			BodyKind:   ep.BodyKind(),
			PathParams: ep.PathParams(),
		})
	}
	for _, name := range sortedKeys(program.Functions) {
		fn := program.Functions[name]
		schema.Functions = append(schema.Functions, FunctionSchema{Name: fn.Name, Params: fn.Params})
	}
	for _, name := range sortedKeys(program.Classes) {
		cls := program.Classes[name]
		cs := ClassSchema{Name: cls.Name, Methods: []FunctionSchema{}}
		for _, m := range cls.Methods {
			cs.Methods = append(cs.Methods, FunctionSchema{Name: m.Name, Params: m.Params})
		}
		schema.Classes = append(schema.Classes, cs)
	}
	for _, name := range sortedKeys(program.Models) {
		model := program.Models[name]
		ms := ModelSchema{Name: model.Name, Table: model.Table}
		for _, f := range model.Fields {
			ms.Fields = append(ms.Fields, FieldSchema{Name: f.Name, Type: f.Type, Optional: f.Optional, PrimaryKey: f.PrimaryKey})
		}
		schema.Models = append(schema.Models, ms)
	}
	return schema
}
