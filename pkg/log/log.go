package log

import (
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var DefaultLogger logr.Logger

type Level struct {
	l int8
}

var level = &Level{l: 0}

func (l *Level) Enabled(lvl zapcore.Level) bool {
	return int(lvl) >= int(l.l)
}

func (l *Level) String() string {
	return strconv.Itoa(int(l.l))
}

func WithV(verbosity int) {
	level.l = int8(-1 * verbosity)
}

func init() {
	enc := zap.NewProductionEncoderConfig()
	enc.LevelKey = "verbosity"
	enc.EncodeLevel = func(l zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(strconv.Itoa(int(-1 * l)))
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.Lock(os.Stderr),
		level,
	)
	DefaultLogger = zapr.NewLogger(zap.New(core))
}
