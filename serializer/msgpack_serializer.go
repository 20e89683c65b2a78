package serializer

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgPackSerializer 走 msgpack.CustomEncoder/CustomDecoder，保留 NaN 和 ±Inf
type MsgPackSerializer[T any] struct{}

func NewMsgPackSerializer[T any]() *MsgPackSerializer[T] {
	return &MsgPackSerializer[T]{}
}

func (s *MsgPackSerializer[T]) Serialize(from T) ([]byte, error) {
	buf, err := msgpack.Marshal(from)
	if err != nil {
		return nil, errors.Wrapf(err, "msgpack.Marshal %T failed", from)
	}
	return buf, nil
}

func (s *MsgPackSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	if err := msgpack.Unmarshal(to, &result); err != nil {
		return result, errors.Wrapf(err, "msgpack.Unmarshal %T failed", result)
	}
	return result, nil
}
