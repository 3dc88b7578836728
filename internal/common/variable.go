package common

import (
	"maps"
	"strings"
)

type (
	VariableMap   map[string]string
	VariableSlice []string
)

// Converts a VariableMap to a VariableSlice
func VariablesMapToSlice(variables VariableMap) VariableSlice {
	var ret VariableSlice = make(VariableSlice, 0)
	for key, val := range variables {
		ret = append(ret, string(key+"="+val))
	}
	return ret
}

// Converts a VariableSlice to a VariableMap
func VariablesSliceToMap(variables VariableSlice) VariableMap {
	var ret VariableMap = make(VariableMap)
	for _, val := range variables {
		key, value, _ := strings.Cut(val, "=")
		ret[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return ret
}

// Merges variable maps left to right, later maps winning on key conflicts
func MergeVariables(vars ...VariableMap) VariableMap {
	var ret VariableMap = make(VariableMap)
	for _, v := range vars {
		maps.Copy(ret, v)
	}
	return ret
}

// Returns an independent copy so run-scoped bindings stay immutable
func (v VariableMap) Clone() VariableMap {
	ret := make(VariableMap, len(v))
	maps.Copy(ret, v)
	return ret
}
