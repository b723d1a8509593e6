package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/shared/id"
)

// Logger is the kernel logger. Subsystems take a named child of it.
type Logger struct {
	*zap.Logger
}

// Config selects the level and format of kernel logs.
type Config struct {
	Level       string    // "debug", "info", "warn", "error"
	Development bool      // console format with colors and stack traces
	Output      io.Writer // defaults to stderr
}

// New builds a logger. JSON lines in production, console text in
// development.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.NameKey = "subsystem"
		ec.EncodeTime = zapcore.EpochNanosTimeEncoder
		ec.EncodeDuration = zapcore.NanosDurationEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
	return &Logger{Logger: zap.New(core, opts...)}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithBoot tags every entry with the boot ID.
func (l *Logger) WithBoot(boot id.BootID) *Logger {
	return &Logger{Logger: l.With(zap.String("boot", boot.String()))}
}

// Subsystem returns the named child logger for one kernel subsystem. A nil
// Logger yields a no-op.
func (l *Logger) Subsystem(name string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(name)
}
