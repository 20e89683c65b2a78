package serializer

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONSerializer T 实现 json.Marshaler 时按其自定义形态编码，如聚合结果的无标签结构
type JSONSerializer[T any] struct{}

func NewJSONSerializer[T any]() *JSONSerializer[T] {
	return &JSONSerializer[T]{}
}

func (s *JSONSerializer[T]) Serialize(from T) ([]byte, error) {
	buf, err := json.Marshal(from)
	if err != nil {
		return nil, errors.Wrapf(err, "json.Marshal %T failed", from)
	}
	return buf, nil
}

func (s *JSONSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	if err := json.Unmarshal(to, &result); err != nil {
		return result, errors.Wrapf(err, "json.Unmarshal %T failed", result)
	}
	return result, nil
}
