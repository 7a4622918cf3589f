package model

// MergePayload applies patch onto base with recursive object merge.
// A null patch value deletes the key; nested objects merge key by key;
// anything else replaces. base is not modified.
func MergePayload(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}

	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}

		patchObj, patchIsObj := v.(map[string]any)
		baseObj, baseIsObj := merged[k].(map[string]any)
		if patchIsObj && baseIsObj {
			merged[k] = MergePayload(baseObj, patchObj)
			continue
		}

		merged[k] = v
	}

	return merged
}
