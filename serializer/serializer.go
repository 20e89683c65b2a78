package serializer

import (
	"github.com/pkg/errors"
)

type Serializer[F, T any] interface {
	Serialize(from F) (T, error)
	Deserialize(to T) (F, error)
}

// Options 序列化格式配置
type Options struct {
	// json, msgpack, bson, protobuf
	Format string `cfg:"format" def:"json" validate:"omitempty,oneof=json msgpack bson protobuf"`
}

func NewByteSerializerWithOptions[T any](options *Options) (Serializer[T, []byte], error) {
	format := "json"
	if options != nil && options.Format != "" {
		format = options.Format
	}

	switch format {
	case "json":
		return NewJSONSerializer[T](), nil
	case "msgpack":
		return NewMsgPackSerializer[T](), nil
	case "bson":
		return NewBSONSerializer[T](), nil
	case "protobuf":
		return NewProtobufSerializer[T](), nil
	default:
		return nil, errors.Errorf("unsupported serializer format: %q", format)
	}
}
