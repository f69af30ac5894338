package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strconv"

	"firisync/internal/models"
)

// Заголовки аутентификации Firi
const (
	HeaderAccessKey = "firi-access-key"
	HeaderClientID  = "firi-user-clientid"
	HeaderSignature = "firi-user-signature"
	HeaderTimestamp = "firi-user-timestamp"
	HeaderValidity  = "firi-user-validity"
)

// Границы окна действия подписи (секунды)
const (
	MinValidity = 1
	MaxValidity = 3600
)

var signatureRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// AuthHeaders - набор заголовков подписанного запроса
// Подпись живёт не дольше validity секунд, переиспользовать её нельзя.
type AuthHeaders struct {
	AccessKey string
	ClientID  string
	Timestamp string
	Validity  string
	Signature string
}

// CanonicalPayload - строка подписи: timestamp и validity без разделителя
//
//	CanonicalPayload(1640995200, 30) == "164099520030"
func CanonicalPayload(timestamp int64, validity int) string {
	return strconv.FormatInt(timestamp, 10) + strconv.Itoa(validity)
}

// Sign подписывает запрос серверным временем биржи
//
// Подпись = hex(HMAC-SHA256(secret, CanonicalPayload)), 64 символа в нижнем регистре.
// Тело запроса в подпись не входит.
func Sign(creds models.Credentials, serverTime int64, validity int) (AuthHeaders, error) {
	if validity < MinValidity || validity > MaxValidity {
		return AuthHeaders{}, ErrInvalidValidity
	}

	mac := hmac.New(sha256.New, []byte(creds.Secret))
	mac.Write([]byte(CanonicalPayload(serverTime, validity)))

	return AuthHeaders{
		AccessKey: creds.APIKey,
		ClientID:  creds.ClientID,
		Timestamp: strconv.FormatInt(serverTime, 10),
		Validity:  strconv.Itoa(validity),
		Signature: hex.EncodeToString(mac.Sum(nil)),
	}, nil
}

// ValidateHeaders - структурная проверка перед отправкой
// Саму подпись не перепроверяет, это делает биржа.
func ValidateHeaders(h AuthHeaders) bool {
	if h.AccessKey == "" || h.ClientID == "" {
		return false
	}
	if _, err := strconv.ParseInt(h.Timestamp, 10, 64); err != nil {
		return false
	}
	if _, err := strconv.Atoi(h.Validity); err != nil {
		return false
	}
	return signatureRegex.MatchString(h.Signature)
}

// Header возвращает заголовки в виде http.Header
func (h AuthHeaders) Header() http.Header {
	out := http.Header{}
	out.Set(HeaderAccessKey, h.AccessKey)
	out.Set(HeaderClientID, h.ClientID)
	out.Set(HeaderSignature, h.Signature)
	out.Set(HeaderTimestamp, h.Timestamp)
	out.Set(HeaderValidity, h.Validity)
	return out
}

// Apply выставляет заголовки запроса
// timestamp и validity дублируются в query - так их ожидает биржа
func (h AuthHeaders) Apply(req *http.Request) {
	for k, v := range h.Header() {
		req.Header[k] = v
	}

	q := req.URL.Query()
	q.Set("timestamp", h.Timestamp)
	q.Set("validity", h.Validity)
	req.URL.RawQuery = q.Encode()
}
