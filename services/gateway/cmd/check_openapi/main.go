package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"studymate/services/gateway/internal/server"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type operation struct {
	Security  *[]map[string][]string `yaml:"security"`
	Responses map[string]yaml.Node   `yaml:"responses"`
}

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <gateway-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc, server.Routes(), server.RequiresAuth); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

// check validates the error contract and that the documented operations are
// exactly the served routes.
func check(doc openAPIDoc, routes []string, requiresAuth func(string) bool) error {
	errSchema, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errSchema); err != nil {
		return err
	}

	documented, err := documentedOperations(doc)
	if err != nil {
		return err
	}
	served := make(map[string]bool, len(routes))
	for _, pattern := range routes {
		key, err := operationKey(pattern)
		if err != nil {
			return err
		}
		served[key] = true
		op, ok := documented[key]
		if !ok {
			return fmt.Errorf("route %q is not documented", pattern)
		}
		if err := validateSecurity(key, op, requiresAuth(pattern)); err != nil {
			return err
		}
	}
	var extra []string
	for key := range documented {
		if !served[key] {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("documented operations not served: %s", strings.Join(extra, ", "))
	}
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	return nil
}

// documentedOperations keys every operation as "METHOD /path".
func documentedOperations(doc openAPIDoc) (map[string]operation, error) {
	if len(doc.Paths) == 0 {
		return nil, errors.New("paths missing")
	}
	out := make(map[string]operation)
	for path, item := range doc.Paths {
		for method, node := range item {
			if !httpMethods[method] {
				continue
			}
			var op operation
			if err := node.Decode(&op); err != nil {
				return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
			}
			out[strings.ToUpper(method)+" "+path] = op
		}
	}
	return out, nil
}

// operationKey converts a ServeMux pattern into "METHOD /path".
func operationKey(pattern string) (string, error) {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok || method == "" || !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("route %q must be \"METHOD /path\"", pattern)
	}
	path = strings.TrimSuffix(path, "{$}")
	return strings.ToUpper(method) + " " + path, nil
}

func validateSecurity(key string, op operation, authRequired bool) error {
	public := op.Security != nil && len(*op.Security) == 0
	if authRequired {
		if public {
			return fmt.Errorf("%s requires a bearer token but is documented as public", key)
		}
		if _, ok := op.Responses["401"]; !ok {
			return fmt.Errorf("%s must document a 401 response", key)
		}
		return nil
	}
	if !public {
		return fmt.Errorf("%s is public but is not documented with an empty security list", key)
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
