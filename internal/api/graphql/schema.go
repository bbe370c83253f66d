package graphql

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	apierrors "github.com/fractionalev/ownership-ledger/internal/api/shared/errors"
)

//go:embed schema.graphqls
var schemaSource string

// SchemaSDL returns the schema definition served by the handler
func SchemaSDL() string {
	return schemaSource
}

// executableSchema answers queries by calling the resolver and projecting the
// response DTOs onto the requested selection set
type executableSchema struct {
	schema   *ast.Schema
	resolver *Resolver
}

// NewExecutableSchema parses the embedded schema and binds it to the resolver
func NewExecutableSchema(resolver *Resolver) (graphql.ExecutableSchema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})
	if err != nil {
		return nil, fmt.Errorf("failed to load graphql schema: %w", err)
	}
	return &executableSchema{schema: schema, resolver: resolver}, nil
}

func (e *executableSchema) Schema() *ast.Schema {
	return e.schema
}

func (e *executableSchema) Complexity(_ context.Context, _, _ string, _ int, _ map[string]any) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	if opCtx.Operation.Operation != ast.Query {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "only queries are supported, use the REST API for commands"))
	}

	done := false
	return func(ctx context.Context) *graphql.Response {
		if done {
			return nil
		}
		done = true

		data := e.execQuery(ctx, opCtx)
		var buf bytes.Buffer
		data.MarshalGQL(&buf)
		return &graphql.Response{Data: buf.Bytes()}
	}
}

// execQuery resolves every root field of the operation
func (e *executableSchema) execQuery(ctx context.Context, opCtx *graphql.OperationContext) graphql.Marshaler {
	out := &object{}
	for _, field := range graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{"Query"}) {
		switch field.Name {
		case "__typename":
			out.add(field.Alias, graphql.MarshalString("Query"))
			continue
		case "__schema", "__type":
			graphql.AddError(ctx, &gqlerror.Error{
				Message: "introspection is not supported, fetch the schema from GET /graphql/schema",
				Path:    ast.Path{ast.PathName(field.Alias)},
			})
			out.add(field.Alias, graphql.Null)
			continue
		}

		value, err := e.resolver.resolveQuery(ctx, field.Name, field.ArgumentMap(opCtx.Variables))
		if err != nil {
			graphql.AddError(ctx, &gqlerror.Error{
				Err:     apierrors.FromError(err),
				Message: err.Error(),
				Path:    ast.Path{ast.PathName(field.Alias)},
			})
			out.add(field.Alias, graphql.Null)
			continue
		}

		generic, err := toGeneric(value)
		if err != nil {
			graphql.AddError(ctx, &gqlerror.Error{
				Err:     err,
				Message: err.Error(),
				Path:    ast.Path{ast.PathName(field.Alias)},
			})
			out.add(field.Alias, graphql.Null)
			continue
		}
		out.add(field.Alias, e.marshal(opCtx, field.Definition.Type, field.Selections, generic))
	}
	return out
}

// toGeneric turns a response DTO into maps, slices and json.Number values keyed by JSON name
func toGeneric(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return generic, nil
}

// marshal renders v as the schema type typ, keeping only the selected fields of objects
func (e *executableSchema) marshal(opCtx *graphql.OperationContext, typ *ast.Type, selections ast.SelectionSet, v interface{}) graphql.Marshaler {
	if v == nil {
		if typ.NonNull {
			return e.zero(typ)
		}
		return graphql.Null
	}

	if typ.Elem != nil {
		items, ok := v.([]interface{})
		if !ok {
			return graphql.Null
		}
		out := make(list, 0, len(items))
		for _, item := range items {
			out = append(out, e.marshal(opCtx, typ.Elem, selections, item))
		}
		return out
	}

	def := e.schema.Types[typ.Name()]
	if def == nil {
		return graphql.Null
	}

	switch def.Kind {
	case ast.Object:
		fields, ok := v.(map[string]interface{})
		if !ok {
			return graphql.Null
		}
		out := &object{}
		for _, field := range graphql.CollectFields(opCtx, selections, []string{def.Name}) {
			if field.Name == "__typename" {
				out.add(field.Alias, graphql.MarshalString(def.Name))
				continue
			}
			out.add(field.Alias, e.marshal(opCtx, field.Definition.Type, field.Selections, fields[field.Name]))
		}
		return out
	case ast.Enum:
		s, _ := v.(string)
		return graphql.MarshalString(s)
	default:
		return marshalScalar(def.Name, v)
	}
}

func marshalScalar(name string, v interface{}) graphql.Marshaler {
	switch name {
	case "Int64":
		var i Int64
		if err := i.UnmarshalGQL(v); err != nil {
			return graphql.Null
		}
		return i
	case "JSON":
		raw, err := json.Marshal(v)
		if err != nil {
			return graphql.Null
		}
		return JSON(raw)
	case "Int":
		if n, ok := v.(json.Number); ok {
			return rawValue(n.String())
		}
		return graphql.Null
	case "Boolean":
		b, _ := v.(bool)
		return graphql.MarshalBoolean(b)
	default:
		// String, ID and Time arrive as JSON strings
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		return graphql.MarshalString(s)
	}
}

// zero is the value of a non-null field that the response omitted as empty
func (e *executableSchema) zero(typ *ast.Type) graphql.Marshaler {
	if typ.Elem != nil {
		return list{}
	}
	switch typ.Name() {
	case "Boolean":
		return graphql.MarshalBoolean(false)
	case "Int":
		return rawValue("0")
	case "Int64":
		return Int64(0)
	case "String", "ID":
		return graphql.MarshalString("")
	default:
		return graphql.Null
	}
}

// object writes its fields in selection order
type object struct {
	keys   []string
	values []graphql.Marshaler
}

func (o *object) add(key string, value graphql.Marshaler) {
	o.keys = append(o.keys, key)
	o.values = append(o.values, value)
}

func (o *object) MarshalGQL(w io.Writer) {
	_, _ = io.WriteString(w, "{")
	for i, key := range o.keys {
		if i > 0 {
			_, _ = io.WriteString(w, ",")
		}
		graphql.MarshalString(key).MarshalGQL(w)
		_, _ = io.WriteString(w, ":")
		o.values[i].MarshalGQL(w)
	}
	_, _ = io.WriteString(w, "}")
}

type list []graphql.Marshaler

func (l list) MarshalGQL(w io.Writer) {
	_, _ = io.WriteString(w, "[")
	for i, item := range l {
		if i > 0 {
			_, _ = io.WriteString(w, ",")
		}
		item.MarshalGQL(w)
	}
	_, _ = io.WriteString(w, "]")
}

// rawValue is a JSON literal written as is
type rawValue string

func (r rawValue) MarshalGQL(w io.Writer) {
	_, _ = io.WriteString(w, string(r))
}
