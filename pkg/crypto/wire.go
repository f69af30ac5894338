package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// wirePrefix - префикс hex-представления bytea в текстовом протоколе PostgreSQL
const wirePrefix = `\x`

// ToWire кодирует бинарные данные в строку вида \x<hex>
//
// Такую строку PostgreSQL принимает как текстовый литерал bytea,
// поэтому её можно передавать через любой текстовый слой.
func ToWire(b []byte) string {
	return wirePrefix + hex.EncodeToString(b)
}

// FromWire декодирует значение, пришедшее из слоя хранения
//
// Разные клиенты отдают одну и ту же колонку по-разному:
//   - []byte: драйвер уже декодировал bytea
//   - string с префиксом \x: hex-представление
//   - прочие строки: base64 (запасной вариант)
func FromWire(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case string:
		return fromWireString(v)
	case *string:
		if v == nil {
			return nil, fmt.Errorf("wire: nil string pointer")
		}
		return fromWireString(*v)
	case nil:
		return nil, fmt.Errorf("wire: value is nil")
	default:
		return nil, fmt.Errorf("wire: unsupported value type %T", value)
	}
}

func fromWireString(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, wirePrefix) {
		b, err := hex.DecodeString(s[len(wirePrefix):])
		if err != nil {
			return nil, fmt.Errorf("wire: invalid hex payload (len=%d)", len(s))
		}
		return b, nil
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("wire: value is neither \\x-hex nor base64 (len=%d)", len(s))
	}
	return b, nil
}
