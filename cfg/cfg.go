package cfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Format 配置文件格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatINI  Format = "ini"
)

// FormatOf 根据文件扩展名推断格式
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".ini":
		return FormatINI, nil
	default:
		return "", errors.Errorf("unsupported config file extension: %q", filepath.Ext(path))
	}
}

// Load 读取配置文件并解码到 object
func Load(path string, object interface{}) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s failed", path)
	}

	return errors.WithMessagef(Unmarshal(data, format, object), "load config %s failed", path)
}

// Unmarshal 解码 -> cfg tag 映射 -> 默认值 -> 校验
func Unmarshal(data []byte, format Format, object interface{}) error {
	tree, err := decode(data, format)
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		Result:           object,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "mapstructure.NewDecoder failed")
	}
	if err := decoder.Decode(tree); err != nil {
		return errors.Wrap(err, "decode config failed")
	}

	if err := SetDefaults(object); err != nil {
		return errors.Wrap(err, "set defaults failed")
	}

	return Validate(object)
}

var validate = validator.New()

// Validate 按 validate tag 校验结构体
func Validate(object interface{}) error {
	if err := validate.Struct(object); err != nil {
		return errors.Wrap(err, "validate config failed")
	}
	return nil
}

func decode(data []byte, format Format) (map[string]interface{}, error) {
	tree := map[string]interface{}{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "yaml.Unmarshal failed")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "toml.Unmarshal failed")
		}
	case FormatINI:
		return decodeINI(data)
	default:
		return nil, errors.Errorf("unsupported config format: %q", format)
	}

	return tree, nil
}

// decodeINI section 名按 "." 展开为嵌套结构，如 [finalizer.logger] -> finalizer: {logger: {...}}
func decodeINI(data []byte) (map[string]interface{}, error) {
	file, err := ini.LoadSources(ini.LoadOptions{SpaceBeforeInlineComment: true}, data)
	if err != nil {
		return nil, errors.Wrap(err, "ini.Load failed")
	}

	tree := map[string]interface{}{}
	for _, section := range file.Sections() {
		node := tree
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(section.Name(), ".") {
				child, ok := node[part].(map[string]interface{})
				if !ok {
					child = map[string]interface{}{}
					node[part] = child
				}
				node = child
			}
		}
		for _, key := range section.Keys() {
			node[key.Name()] = key.Value()
		}
	}

	return tree, nil
}
