package openapi

import "testing"

func TestMergeDescriptionsNilPrevious(t *testing.T) {
	cur := doc(t, `{"paths":{"/pets":{"get":{}}}}`)
	merged, err := MergeDescriptions(nil, cur)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Paths()) != 1 {
		t.Fatalf("expected current document unchanged")
	}
}

func TestMergeDescriptionsKeepsEarlierWording(t *testing.T) {
	prev := doc(t, `{"paths":{"/pets":{"get":{
		"description":"List all pets.",
		"parameters":[{"name":"limit","in":"query","description":"Page size."}],
		"responses":{"200":{"description":"A paged list of pets."}}
	}}}}`)
	cur := doc(t, `{"paths":{"/pets":{"get":{
		"parameters":[{"name":"limit","in":"query"},{"name":"offset","in":"query"}],
		"responses":{"200":{"description":"OK"}}
	}}}}`)

	merged, err := MergeDescriptions(prev, cur)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	op := merged.Paths()["/pets"].(map[string]any)["get"].(map[string]any)
	if op["description"] != "List all pets." {
		t.Fatalf("operation description not carried over: %v", op["description"])
	}
	params := op["parameters"].([]any)
	if params[0].(map[string]any)["description"] != "Page size." {
		t.Fatalf("parameter description not carried over")
	}
	if _, ok := params[1].(map[string]any)["description"]; ok {
		t.Fatalf("new parameter must not gain a description")
	}
	resp := op["responses"].(map[string]any)["200"].(map[string]any)
	if resp["description"] != "A paged list of pets." {
		t.Fatalf("placeholder OK response must be replaced, got %v", resp["description"])
	}
}

func TestMergeDescriptionsDoesNotOverwriteNewText(t *testing.T) {
	prev := doc(t, `{"paths":{"/pets":{"get":{"description":"Old wording."}}}}`)
	cur := doc(t, `{"paths":{"/pets":{"get":{"description":"New wording."}}}}`)
	merged, err := MergeDescriptions(prev, cur)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	op := merged.Paths()["/pets"].(map[string]any)["get"].(map[string]any)
	if op["description"] != "New wording." {
		t.Fatalf("existing description must win, got %v", op["description"])
	}
}

func TestMergeDescriptionsSchemas(t *testing.T) {
	prev := doc(t, `{"components":{"schemas":{"Pet":{
		"description":"A pet.",
		"properties":{"name":{"type":"string","description":"Display name."}}
	}}}}`)
	cur := doc(t, `{"components":{"schemas":{"Pet":{
		"properties":{"name":{"type":"string"},"tag":{"type":"string"}}
	}}}}`)
	merged, err := MergeDescriptions(prev, cur)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	schema := merged.Schemas()["Pet"].(map[string]any)
	if schema["description"] != "A pet." {
		t.Fatalf("schema description not carried over")
	}
	props := schema["properties"].(map[string]any)
	if props["name"].(map[string]any)["description"] != "Display name." {
		t.Fatalf("property description not carried over")
	}
	if _, ok := props["tag"].(map[string]any)["description"]; ok {
		t.Fatalf("new property must not gain a description")
	}
}

func TestMergeDescriptionsDoesNotMutateInputs(t *testing.T) {
	prev := doc(t, `{"paths":{"/pets":{"get":{"description":"Old."}}}}`)
	cur := doc(t, `{"paths":{"/pets":{"get":{}}}}`)
	if _, err := MergeDescriptions(prev, cur); err != nil {
		t.Fatalf("merge: %v", err)
	}
	op := cur.Paths()["/pets"].(map[string]any)["get"].(map[string]any)
	if _, ok := op["description"]; ok {
		t.Fatalf("current document was mutated")
	}
}
