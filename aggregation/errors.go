package aggregation

import (
	"github.com/pkg/errors"
)

// ErrInternal 内部一致性错误，说明上游产生了与请求不符的中间结果或调用方逻辑有误
// 不是用户输入错误，出现时不返回任何部分结果
var ErrInternal = errors.New("internal consistency error")

func internalError(format string, args ...any) error {
	return errors.Wrapf(ErrInternal, format, args...)
}
