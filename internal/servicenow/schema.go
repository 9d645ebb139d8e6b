package servicenow

import "sort"

// FieldNames extracts column names from the result of [Instance.GetSchema]
// or [Instance.GetMetadata]. It accepts an array of field descriptors
// (using "value", "name" or "element" as the column name) or an object with
// a "columns" map. Order follows the array, or sorted keys for maps.
// Duplicates are dropped.
func FieldNames(result any) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	switch v := result.(type) {
	case []any:
		for _, item := range v {
			switch f := item.(type) {
			case string:
				add(f)
			case map[string]any:
				for _, key := range []string{"value", "name", "element"} {
					if s, ok := f[key].(string); ok && s != "" {
						add(s)
						break
					}
				}
			}
		}
	case map[string]any:
		cols, ok := v["columns"].(map[string]any)
		if !ok {
			return nil
		}
		keys := make([]string, 0, len(cols))
		for k := range cols {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k)
		}
	}
	return names
}
