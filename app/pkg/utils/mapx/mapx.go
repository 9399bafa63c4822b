package mapx

import (
	"fmt"
)

type BasicMap map[string]interface{}

// CopyNoDuplicates copies src into dst, suffixing "_" to keys dst already has.
// It returns the keys that had to be renamed.
func CopyNoDuplicates(src BasicMap, dst BasicMap) []string {
	var duplicateKeys []string

	for k, v := range src {
		for _, ok := dst[k]; ok; _, ok = dst[k] {
			duplicateKeys = append(duplicateKeys, k)
			k += "_"
		}
		dst[k] = v
	}

	return duplicateKeys
}

// StringToStringsList flattens decoded yaml values into header style lists.
func StringToStringsList(m map[string]interface{}) map[string][]string {
	result := make(map[string][]string)
	for key, value := range m {
		switch v := value.(type) {
		case []interface{}:
			var values []string
			for _, item := range v {
				values = append(values, fmt.Sprintf("%v", item))
			}
			result[key] = values
		default:
			result[key] = []string{fmt.Sprintf("%v", v)}
		}
	}

	return result
}
