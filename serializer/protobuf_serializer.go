package serializer

import (
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufSerializer 以 JSON 形态为桥梁，编码为 google.protobuf.Struct
// T 的 JSON 形态必须是对象
type ProtobufSerializer[T any] struct{}

func NewProtobufSerializer[T any]() *ProtobufSerializer[T] {
	return &ProtobufSerializer[T]{}
}

func (s *ProtobufSerializer[T]) Serialize(from T) ([]byte, error) {
	buf, err := json.Marshal(from)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal failed")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(buf, &fields); err != nil {
		return nil, errors.Wrap(err, "value is not a json object")
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "structpb.NewStruct failed")
	}

	return proto.Marshal(st)
}

func (s *ProtobufSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T

	st := &structpb.Struct{}
	if err := proto.Unmarshal(to, st); err != nil {
		return result, errors.Wrap(err, "proto.Unmarshal failed")
	}

	buf, err := json.Marshal(st.AsMap())
	if err != nil {
		return result, errors.Wrap(err, "json.Marshal failed")
	}

	err = json.Unmarshal(buf, &result)
	return result, err
}
