package common

// CopyMap creates a shallow copy of a map[string]interface{}.
func CopyMap(original map[string]interface{}) map[string]interface{} {
	if original == nil {
		return nil
	}
	newMap := make(map[string]interface{}, len(original))
	for key, value := range original {
		newMap[key] = value
	}
	return newMap
}

// MergeVars returns a new map holding every key of explicit, plus every key of
// fallback that explicit does not define. Neither input is modified.
func MergeVars(explicit, fallback map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(explicit)+len(fallback))
	for k, v := range explicit {
		merged[k] = v
	}
	for k, v := range fallback {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return merged
}
