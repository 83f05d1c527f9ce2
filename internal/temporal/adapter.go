package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter routes SDK, workflow and activity logs into zap.
type ZapAdapter struct {
	logger *zap.Logger
}

var (
	_ log.Logger          = (*ZapAdapter)(nil)
	_ log.WithLogger      = (*ZapAdapter)(nil)
	_ log.WithSkipCallers = (*ZapAdapter)(nil)
)

func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	// skip write() and the level method
	return &ZapAdapter{logger: logger.WithOptions(zap.AddCallerSkip(2))}
}

func (z *ZapAdapter) Debug(msg string, keyvals ...interface{}) {
	z.write(zapcore.DebugLevel, msg, keyvals)
}
func (z *ZapAdapter) Info(msg string, keyvals ...interface{}) {
	z.write(zapcore.InfoLevel, msg, keyvals)
}
func (z *ZapAdapter) Warn(msg string, keyvals ...interface{}) {
	z.write(zapcore.WarnLevel, msg, keyvals)
}
func (z *ZapAdapter) Error(msg string, keyvals ...interface{}) {
	z.write(zapcore.ErrorLevel, msg, keyvals)
}

func (z *ZapAdapter) write(level zapcore.Level, msg string, keyvals []interface{}) {
	if ce := z.logger.Check(level, msg); ce != nil {
		ce.Write(toFields(keyvals)...)
	}
}

func (z *ZapAdapter) With(keyvals ...interface{}) log.Logger {
	return &ZapAdapter{logger: z.logger.With(toFields(keyvals)...)}
}

// WithCallerSkip lets the SDK point caller info at workflow code.
func (z *ZapAdapter) WithCallerSkip(depth int) log.Logger {
	return &ZapAdapter{logger: z.logger.WithOptions(zap.AddCallerSkip(depth))}
}

// toFields pairs keys with values. Non-string keys are formatted with %v and a
// trailing key without a value is logged as "extra".
func toFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, (len(keyvals)+1)/2)
	for len(keyvals) > 0 {
		if len(keyvals) == 1 {
			fields = append(fields, toField("extra", keyvals[0]))
			break
		}
		key, ok := keyvals[0].(string)
		if !ok {
			key = fmt.Sprint(keyvals[0])
		}
		fields = append(fields, toField(key, keyvals[1]))
		keyvals = keyvals[2:]
	}
	return fields
}

// toField keeps values zap cannot encode (funcs, channels) out of the encoder.
func toField(key string, val interface{}) zap.Field {
	switch v := val.(type) {
	case nil:
		return zap.String(key, "<nil>")
	case error:
		return zap.NamedError(key, v)
	case string:
		return zap.String(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	}
	switch k := reflect.TypeOf(val).Kind(); k {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return zap.String(key, "<"+k.String()+">")
	}
	return zap.Any(key, val)
}
