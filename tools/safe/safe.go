package safe

import (
	"fmt"
	"reflect"
	"runtime/debug"

	"PPMall/logger"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover 记录 panic 与堆栈；只能在 defer 中直接调用
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("goroutine panic recovered",
			zap.String("name", name),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}
