package utils

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка структурированного логирования (zap)
//
// Компоненты получают *zap.Logger через конструкторы и создают
// именованных потомков: logger.Named("firi"), logger.Named("sync").
// Глобальный логгер нужен только для main и кода без зависимостей.

// LogConfig - параметры логгера
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	Output      string // stdout, stderr или путь к файлу
	Development bool
}

// Logger - обёртка над zap.Logger с sugared вариантом
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер по конфигурации
//
// Пустые поля получают значения по умолчанию: info, json, stdout.
// Ошибка открытия файла не фатальна - вывод уходит в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openOutput(cfg.Output), zap.NewAtomicLevelAt(level))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	l := zap.New(core, opts...)
	return &Logger{Logger: l, sugar: l.Sugar()}
}

// openOutput открывает приёмник логов
func openOutput(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(f)
}

// parseLevel переводит строку в уровень zap, по умолчанию info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая дефолтный при необходимости
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает потомка с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// Named возвращает именованного потомка
func (l *Logger) Named(name string) *Logger {
	child := l.Logger.Named(name)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent - потомок с полем component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithExchange - потомок с полем exchange
func (l *Logger) WithExchange(name string) *Logger {
	return l.With(Exchange(name))
}

// WithConnection - потомок с полем connection_id
func (l *Logger) WithConnection(id string) *Logger {
	return l.With(ConnectionID(id))
}

// WithStream - потомок с полем stream
func (l *Logger) WithStream(stream string) *Logger {
	return l.With(Stream(stream))
}

// Sugar возвращает sugared логгер
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Zap возвращает исходный *zap.Logger для передачи в компоненты
func (l *Logger) Zap() *zap.Logger {
	return l.Logger
}

// ============================================================
// Глобальные функции логирования
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// ============================================================
// Конструкторы полей
// ============================================================

func Exchange(name string) zap.Field       { return zap.String("exchange", name) }
func Stream(name string) zap.Field         { return zap.String("stream", name) }
func ConnectionID(id string) zap.Field     { return zap.String("connection_id", id) }
func UserID(id string) zap.Field           { return zap.String("user_id", id) }
func Market(id string) zap.Field           { return zap.String("market", id) }
func OrderID(id string) zap.Field          { return zap.String("order_id", id) }
func Kind(kind string) zap.Field           { return zap.String("kind", kind) }
func Endpoint(path string) zap.Field       { return zap.String("endpoint", path) }
func Status(code int) zap.Field            { return zap.Int("status", code) }
func Attempt(n int) zap.Field              { return zap.Int("attempt", n) }
func Page(n int) zap.Field                 { return zap.Int("page", n) }
func Component(name string) zap.Field      { return zap.String("component", name) }
func Latency(d time.Duration) zap.Field    { return zap.Duration("latency", d) }
func Count(key string, n int) zap.Field    { return zap.Int(key, n) }
func ByteLen(key string, n int) zap.Field  { return zap.Int(key+"_len", n) }

// Переэкспорт конструкторов zap
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Err      = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
)

// fieldsToInterface переводит поля zap в пары ключ-значение для sugar
func fieldsToInterface(fields []zap.Field) []interface{} {
	enc := zapcore.NewMapObjectEncoder()
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		f.AddTo(enc)
		out = append(out, f.Key, enc.Fields[f.Key])
	}
	return out
}

// Infow логирует через sugar с полями zap
func (l *Logger) Infow(msg string, fields ...zap.Field) {
	l.sugar.Infow(msg, fieldsToInterface(fields)...)
}
