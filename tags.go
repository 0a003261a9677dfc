package nodedispatch

import (
	"sort"
	"strings"
)

// Tags represents a list of tags attached to internal metrics. Tags can be of two forms:
// 1. "key:value". "value" may contain column(s) as well.
// 2. "tag". No column.
type Tags []string

const unset = "unknown"

// String returns a comma-separated string representation of the tags.
func (tags Tags) String() string {
	return strings.Join(tags, ",")
}

// Concat returns a new Tags with the additional ones added
func (tags Tags) Concat(additional Tags) Tags {
	t := make(Tags, 0, len(tags)+len(additional))
	t = append(t, tags...)
	t = append(t, additional...)
	return t
}

// Copy returns a copy of the Tags
func (tags Tags) Copy() Tags {
	if tags == nil {
		return nil
	}
	tagCopy := make(Tags, len(tags))
	copy(tagCopy, tags)
	return tagCopy
}

// ToMap converts all the tags into label form.
// - If the tag exists without a value it is converted to: "unknown:<tag>"
// - If the tag has several values it is converted to: "tag:Join(Sort(values), "__")"
//   - []{ "tag:pineapple","tag:pear" } ==> "tag:pear__pineapple"
//
// - If the tag key contains a . or - it is re-mapped to _
func (tags Tags) ToMap() map[string]string {
	flatpack := make(map[string][]string, len(tags))
	for i := 0; i < len(tags); i++ {
		key, value := parseTag(tags[i])
		key = strings.NewReplacer(`.`, `_`, `-`, `_`).Replace(key)
		flatpack[key] = append(flatpack[key], value)
	}

	tagsMap := make(map[string]string, len(flatpack))
	for key, values := range flatpack {
		if len(values) == 1 {
			tagsMap[key] = values[0]
			continue
		}
		sort.Strings(values)
		tagsMap[key] = strings.Join(values, `__`)
	}
	return tagsMap
}

func parseTag(tag string) (string, string) {
	tokens := strings.SplitN(tag, ":", 2)
	if len(tokens) == 2 {
		return tokens[0], tokens[1]
	}
	return unset, tokens[0]
}
