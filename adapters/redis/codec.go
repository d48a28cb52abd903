package redis

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// stream entry 的欄位
const (
	entryVersionField = "v"
	entryBodyField    = "body"

	entryVersion = "1"
)

var (
	ErrMissingBody     = errors.New("stream entry has no body")
	ErrUnknownVersion  = errors.New("unknown stream entry version")
	errUnsupportedBody = errors.New("stream entry body is neither string nor bytes")
)

// streamEntry 寫進 stream 的一筆資料：版本號加上 msgpack body
// Redis 字串是二進位安全的，body 直接存 msgpack bytes
type streamEntry struct {
	version string
	body    []byte
}

func (e streamEntry) values() map[string]any {
	return map[string]any{
		entryVersionField: e.version,
		entryBodyField:    e.body,
	}
}

func parseEntry(values map[string]any) (streamEntry, error) {
	version, _ := values[entryVersionField].(string)
	if version != entryVersion {
		return streamEntry{}, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	var body []byte
	switch raw := values[entryBodyField].(type) {
	case nil:
		return streamEntry{}, ErrMissingBody
	case string:
		// go-redis 讀回來的欄位都是 string
		body = []byte(raw)
	case []byte:
		body = raw
	default:
		return streamEntry{}, fmt.Errorf("%w: %T", errUnsupportedBody, raw)
	}
	if len(body) == 0 {
		return streamEntry{}, ErrMissingBody
	}
	return streamEntry{version: version, body: body}, nil
}

// EncodeMessage StreamWriter 預設的編碼方式
func EncodeMessage[T any](data T) (map[string]any, error) {
	body, err := msgpack.Marshal(&data)
	if err != nil {
		return nil, fmt.Errorf("[EncodeMessage] msgpack marshal %T, err=%w", data, err)
	}
	return streamEntry{version: entryVersion, body: body}.values(), nil
}

// DecodeMessage StreamTail / GroupReader 預設的解碼方式
func DecodeMessage[T any](values map[string]any) (T, error) {
	var result T
	entry, err := parseEntry(values)
	if err != nil {
		return result, fmt.Errorf("[DecodeMessage] %w", err)
	}
	if err := msgpack.Unmarshal(entry.body, &result); err != nil {
		return result, fmt.Errorf("[DecodeMessage] msgpack unmarshal %T, err=%w", result, err)
	}
	return result, nil
}
