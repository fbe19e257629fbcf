package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadYAML decodes the YAML file at path into v.
func LoadYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "unable to read %s", path)
	}
	err = yaml.Unmarshal(data, v)
	if err != nil {
		return errors.Wrapf(err, "unable to parse %s", path)
	}

	return nil
}

// MergeMaps deep merges src into dst and returns dst. Nested maps are merged key by
// key, any other value in src replaces the one in dst.
func MergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, sv := range src {
		srcMap, srcIsMap := asMap(sv)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			dst[k] = MergeMaps(dstMap, srcMap)

			continue
		}
		dst[k] = sv
	}

	return dst
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		res := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			res[key] = val
		}

		return res, true
	default:
		return nil, false
	}
}
