package openapi

// MergeDescriptions copies description fields from a previous document into
// the current one wherever the current document lacks them, so structural
// changes are kept but earlier wording survives regeneration. It returns a
// new document and never mutates its inputs.
func MergeDescriptions(previous, current Document) (Document, error) {
	if previous == nil {
		return current, nil
	}
	result, err := current.Clone()
	if err != nil {
		return nil, err
	}

	for pathKey, prevItem := range previous.Paths() {
		prevOps, ok := prevItem.(map[string]any)
		if !ok {
			continue
		}
		curOps, ok := result.Paths()[pathKey].(map[string]any)
		if !ok {
			continue
		}
		for method, p := range prevOps {
			prevOp, ok := p.(map[string]any)
			if !ok {
				continue
			}
			curOp, ok := curOps[method].(map[string]any)
			if !ok {
				continue
			}
			mergeOperation(prevOp, curOp)
		}
	}

	if prevSchemas := previous.Schemas(); prevSchemas != nil {
		curSchemas := ensureSchemas(result)
		for name, p := range prevSchemas {
			prevSchema, ok := p.(map[string]any)
			if !ok {
				continue
			}
			curSchema, ok := curSchemas[name].(map[string]any)
			if !ok {
				continue
			}
			copyDescription(prevSchema, curSchema)
			prevProps := subMap(prevSchema, "properties")
			curProps := subMap(curSchema, "properties")
			for propName, pp := range prevProps {
				prevProp, ok := pp.(map[string]any)
				if !ok {
					continue
				}
				if curProp, ok := curProps[propName].(map[string]any); ok {
					copyDescription(prevProp, curProp)
				}
			}
		}
	}
	return result, nil
}

func mergeOperation(prev, cur map[string]any) {
	copyDescription(prev, cur)

	if prevParams, ok := prev["parameters"].([]any); ok {
		if curParams, ok := cur["parameters"].([]any); ok {
			for _, cp := range curParams {
				curParam, ok := cp.(map[string]any)
				if !ok {
					continue
				}
				name, _ := curParam["name"].(string)
				if name == "" {
					continue
				}
				for _, pp := range prevParams {
					prevParam, ok := pp.(map[string]any)
					if !ok {
						continue
					}
					if prevName, _ := prevParam["name"].(string); prevName == name {
						copyDescription(prevParam, curParam)
					}
				}
			}
		}
	}

	if prevBody, ok := prev["requestBody"].(map[string]any); ok {
		if curBody, ok := cur["requestBody"].(map[string]any); ok {
			copyDescription(prevBody, curBody)
			mergeContent(prevBody, curBody)
		}
	}

	if prevResponses, ok := prev["responses"].(map[string]any); ok {
		if curResponses, ok := cur["responses"].(map[string]any); ok {
			for code, pr := range prevResponses {
				prevResp, ok := pr.(map[string]any)
				if !ok {
					continue
				}
				curResp, ok := curResponses[code].(map[string]any)
				if !ok {
					continue
				}
				// Generators emit "OK" as a placeholder, so an earlier real
				// description wins over it.
				if desc, ok := prevResp["description"]; ok {
					if cd, present := curResp["description"]; !present || cd == "OK" {
						curResp["description"] = desc
					}
				}
				mergeContent(prevResp, curResp)
			}
		}
	}
}

func mergeContent(prev, cur map[string]any) {
	prevContent := subMap(prev, "content")
	curContent := subMap(cur, "content")
	for contentType, pc := range prevContent {
		prevEntry, ok := pc.(map[string]any)
		if !ok {
			continue
		}
		if curEntry, ok := curContent[contentType].(map[string]any); ok {
			copyDescription(prevEntry, curEntry)
		}
	}
}

func copyDescription(prev, cur map[string]any) {
	if desc, ok := prev["description"]; ok {
		if _, present := cur["description"]; !present {
			cur["description"] = desc
		}
	}
}

func ensureSchemas(doc Document) map[string]any {
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
