// Package enrich fills in missing description fields of an OpenAPI
// document by querying the code retrieval service with batched path
// groups.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"apigen/internal/openapi"
	"apigen/internal/rag"
)

// Querier answers documentation queries. *rag.Client implements it.
type Querier interface {
	Query(ctx context.Context, req rag.QueryRequest) (map[string]any, error)
}

// Group is a batch of related paths plus the schemas they reference.
type Group struct {
	Prefix      string
	Paths       map[string]any
	SchemaNames []string
}

const defaultMaxGroupPaths = 10

type Enricher struct {
	RAG           Querier
	MaxGroupPaths int
	Log           *log.Logger
}

func (e *Enricher) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Apply asks the retrieval service to describe every added or modified
// path and merges the answers into a copy of doc. A failed batch keeps the
// original entries for that batch; only the whole document failing to
// clone is an error.
func (e *Enricher) Apply(ctx context.Context, doc openapi.Document, diff openapi.SpecDiff, repoID, language string) (openapi.Document, error) {
	result, err := doc.Clone()
	if err != nil {
		return nil, err
	}
	changed := diff.ChangedPaths()
	if len(changed) == 0 || e.RAG == nil {
		return result, nil
	}

	schemas := result.Schemas()
	groups := GroupPaths(changed, e.maxGroupPaths())
	base := openapi.Document{
		"openapi": docField(result, "openapi", "3.0.0"),
		"info":    docField(result, "info", map[string]any{"title": "Partial API", "version": "1.0.0"}),
	}

	for _, g := range groups {
		partial, err := base.Clone()
		if err != nil {
			return nil, err
		}
		partial["paths"] = g.Paths
		relevant := map[string]any{}
		for _, name := range g.SchemaNames {
			if s, ok := schemas[name]; ok {
				relevant[name] = s
			}
		}
		partial["components"] = map[string]any{"schemas": relevant}

		answer, err := e.query(ctx, partial, repoID, language)
		if err != nil {
			e.logf("enrich: batch %s (%d paths) failed: %v", g.Prefix, len(g.Paths), err)
			continue
		}
		mergeAnswer(result, answer)
	}
	return result, nil
}

func (e *Enricher) query(ctx context.Context, partial openapi.Document, repoID, language string) (map[string]any, error) {
	body, err := json.Marshal(partial)
	if err != nil {
		return nil, err
	}
	return e.RAG.Query(ctx, rag.QueryRequest{
		RepoID:        repoID,
		SysPrompt:     sysPrompt,
		QueryText:     "OpenAPI 3.0 JSON document:\n" + string(body),
		RewritePrompt: rewritePrompt(language),
	})
}

func (e *Enricher) maxGroupPaths() int {
	if e.MaxGroupPaths > 0 {
		return e.MaxGroupPaths
	}
	return defaultMaxGroupPaths
}

func mergeAnswer(doc openapi.Document, answer map[string]any) {
	if paths, ok := answer["paths"].(map[string]any); ok {
		target, ok := doc["paths"].(map[string]any)
		if !ok {
			target = map[string]any{}
			doc["paths"] = target
		}
		for k, v := range paths {
			target[k] = v
		}
	}
	if components, ok := answer["components"].(map[string]any); ok {
		if schemas, ok := components["schemas"].(map[string]any); ok {
			target := ensureSchemas(doc)
			for k, v := range schemas {
				target[k] = v
			}
		}
	}
}

func ensureSchemas(doc openapi.Document) map[string]any {
	components, ok := doc["components"].(map[string]any)
	if !ok {
		components = map[string]any{}
		doc["components"] = components
	}
	schemas, ok := components["schemas"].(map[string]any)
	if !ok {
		schemas = map[string]any{}
		components["schemas"] = schemas
	}
	return schemas
}

func docField(doc openapi.Document, key string, fallback any) any {
	if v, ok := doc[key]; ok {
		return v
	}
	return fallback
}

// GroupPaths buckets paths by their first two segments and splits buckets
// into subgroups of at most maxPaths entries. Each group also records the
// component schemas its path items reference.
func GroupPaths(paths map[string]any, maxPaths int) []Group {
	if maxPaths <= 0 {
		maxPaths = defaultMaxGroupPaths
	}
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type bucket struct {
		paths   map[string]any
		schemas map[string]struct{}
	}
	buckets := map[string][]*bucket{}
	var order []string
	for _, pathKey := range keys {
		prefix := groupPrefix(pathKey)
		subs := buckets[prefix]
		if subs == nil {
			order = append(order, prefix)
		}
		if len(subs) == 0 || len(subs[len(subs)-1].paths) >= maxPaths {
			subs = append(subs, &bucket{paths: map[string]any{}, schemas: map[string]struct{}{}})
			buckets[prefix] = subs
		}
		cur := subs[len(subs)-1]
		cur.paths[pathKey] = paths[pathKey]
		collectSchemaRefs(paths[pathKey], cur.schemas)
	}

	var res []Group
	for _, prefix := range order {
		for i, b := range buckets[prefix] {
			name := prefix
			if i > 0 {
				name = fmt.Sprintf("%s_part%d", prefix, i+1)
			}
			names := make([]string, 0, len(b.schemas))
			for s := range b.schemas {
				names = append(names, s)
			}
			sort.Strings(names)
			res = append(res, Group{Prefix: name, Paths: b.paths, SchemaNames: names})
		}
	}
	return res
}

func groupPrefix(pathKey string) string {
	parts := strings.Split(strings.Trim(pathKey, "/"), "/")
	switch {
	case len(parts) >= 2:
		return "/" + parts[0] + "/" + parts[1]
	case len(parts) == 1 && parts[0] != "":
		return "/" + parts[0]
	default:
		return "/default_group"
	}
}

const schemaRefPrefix = "#/components/schemas/"

func collectSchemaRefs(element any, into map[string]struct{}) {
	switch v := element.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok && strings.HasPrefix(ref, schemaRefPrefix) {
			into[ref[strings.LastIndex(ref, "/")+1:]] = struct{}{}
		}
		for _, child := range v {
			collectSchemaRefs(child, into)
		}
	case []any:
		for _, child := range v {
			collectSchemaRefs(child, into)
		}
	}
}

const sysPrompt = `You are an assistant that documents OpenAPI 3.0 specifications.
You receive a partial OpenAPI 3.0 JSON document together with source code
retrieved from the repository the API is implemented in. Fill in missing
"description" fields for operations, parameters, request bodies, responses,
schemas and schema properties, based on what the code actually does.
Keep every existing field and every existing description unchanged.
Output the completed OpenAPI 3.0 JSON document only, with no explanation
and no markdown fences.`

func rewritePrompt(language string) string {
	hint := ""
	if language != "" {
		hint = fmt.Sprintf(" The repository is mainly written in %s.", language)
	}
	return `Analyze the OpenAPI 3.0 JSON in the user prompt and produce search
queries that retrieve the source files implementing it. Use schema names
from components.schemas, route paths and HTTP methods from paths, and the
API title as query terms. Combine identifier-style keywords with short
natural language phrases so both keyword and semantic retrieval match.` + hint
}
