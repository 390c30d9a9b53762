package graphql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sambeau/stitch/pkg/stitch/binding"
)

const introspectionQuery = `query { __schema { queryType { fields { name args { name } } } } }`

type schema struct {
	QueryType struct {
		Fields []struct {
			Name string `json:"name"`
			Args []struct {
				Name string `json:"name"`
			} `json:"args"`
		} `json:"fields"`
	} `json:"queryType"`
}

// IntrospectFields implements binding.Introspector by listing the root
// query fields and their argument names.
func (c *Client) IntrospectFields(ctx context.Context) ([]binding.FieldDescriptor, error) {
	resp, err := c.do(ctx, introspectionQuery)
	if err != nil {
		return nil, err
	}
	raw, ok := resp.Data["__schema"]
	if !ok {
		return nil, fmt.Errorf("graphql: introspection returned no schema")
	}
	var sc schema
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("graphql: decoding schema: %w", err)
	}

	fields := make([]binding.FieldDescriptor, 0, len(sc.QueryType.Fields))
	for _, f := range sc.QueryType.Fields {
		fd := binding.FieldDescriptor{Name: f.Name}
		for _, a := range f.Args {
			fd.Args = append(fd.Args, a.Name)
		}
		fields = append(fields, fd)
	}
	return fields, nil
}
