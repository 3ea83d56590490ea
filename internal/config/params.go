package config

import (
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/errs"
)

// paramKeys は ParamsConfig が受け付けるキー
var paramKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(ParamsConfig{})
	for i := 0; i < t.NumField(); i++ {
		if tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ","); tag != "" {
			keys[tag] = true
		}
	}
	return keys
}()

// ParseParams は key=value 形式の値を障害種類のパラメータに変換する。
// 値はシナリオファイルと同じ YAML のスカラーとして解釈する。
func ParseParams(kind chaos.Kind, values map[string]string) (chaos.Params, error) {
	var p parser

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range names {
		if !paramKeys[k] {
			p.fail(errs.Validation("params."+k, "unknown parameter"))
			continue
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: values[k]},
		)
	}
	if err := p.err(); err != nil {
		return chaos.Params{}, err
	}

	var pc ParamsConfig
	if err := node.Decode(&pc); err != nil {
		return chaos.Params{}, errs.Validation("params", "%v", err)
	}

	params := pc.toParams(&p, "params", kind)
	for _, err := range params.Validate(kind, "params") {
		p.fail(err)
	}
	if err := p.err(); err != nil {
		return chaos.Params{}, err
	}
	return params, nil
}

// ParseAssignments は key=value の並びを map にする
func ParseAssignments(pairs []string) (map[string]string, error) {
	var p parser
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			p.fail(errs.Validation("set", "expected key=value, got %q", pair))
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, p.err()
}
