// Package decode 把 Redis Stream 字段（全是字符串）解到结构体
package decode

import (
	"reflect"
	"strconv"
	"time"

	"PPMall/tools/errs"

	"github.com/mitchellh/mapstructure"
)

var timeType = reflect.TypeOf(time.Time{})

// Map 按 json tag 宽松解码；"42" -> int64，毫秒时间戳 -> time.Time
func Map[T any](m map[string]any) (*T, error) {
	if m == nil {
		return nil, errs.New("decode nil map")
	}
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
		DecodeHook:       unixMilliHook,
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, errs.WrapMsg(err, "decode stream fields")
	}
	return &out, nil
}

func unixMilliHook(from, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	var ms int64
	switch v := data.(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			// 兼容 RFC3339
			return time.Parse(time.RFC3339Nano, v)
		}
		ms = n
	case int64:
		ms = v
	case float64:
		ms = int64(v)
	default:
		return data, nil
	}
	return time.UnixMilli(ms), nil
}
