package serializer

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// BSONSerializer T 必须编码为 BSON 文档（结构体、map 或实现 bson.Marshaler）
type BSONSerializer[T any] struct{}

func NewBSONSerializer[T any]() *BSONSerializer[T] {
	return &BSONSerializer[T]{}
}

func (s *BSONSerializer[T]) Serialize(from T) ([]byte, error) {
	buf, err := bson.Marshal(from)
	if err != nil {
		return nil, errors.Wrapf(err, "bson.Marshal %T failed", from)
	}
	return buf, nil
}

func (s *BSONSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	if err := bson.Unmarshal(to, &result); err != nil {
		return result, errors.Wrapf(err, "bson.Unmarshal %T failed", result)
	}
	return result, nil
}
