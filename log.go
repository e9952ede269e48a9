package fibre

import (
	"os"

	"github.com/rs/zerolog"
)

// logger fans structured log lines out across the §6.2 DebugString
// categories, one zerolog.Logger per category, all silenced unless their
// bit is set in the active mask.
type logger struct {
	enabled DebugCategory

	basic      zerolog.Logger
	blocking   zerolog.Logger
	polling    zerolog.Logger
	scheduling zerolog.Logger
	threads    zerolog.Logger
	warning    zerolog.Logger
}

func newLogger(mask DebugCategory) *logger {
	base := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
	if mask == 0 {
		base = base.Level(zerolog.Disabled)
	}
	return &logger{
		enabled:    mask,
		basic:      base.With().Str("category", "basic").Logger(),
		blocking:   base.With().Str("category", "blocking").Logger(),
		polling:    base.With().Str("category", "polling").Logger(),
		scheduling: base.With().Str("category", "scheduling").Logger(),
		threads:    base.With().Str("category", "threads").Logger(),
		warning:    base.With().Str("category", "warning").Logger(),
	}
}

func (l *logger) emit(cat DebugCategory, sub *zerolog.Logger, format string, args ...any) {
	if l == nil || l.enabled&cat == 0 {
		return
	}
	sub.Debug().Msgf(format, args...)
}

func (l *logger) Basic(format string, args ...any)    { l.emit(DebugBasic, &l.basic, format, args...) }
func (l *logger) Blocking(format string, args ...any) { l.emit(DebugBlocking, &l.blocking, format, args...) }
func (l *logger) Polling(format string, args ...any)  { l.emit(DebugPolling, &l.polling, format, args...) }
func (l *logger) Scheduling(format string, args ...any) {
	l.emit(DebugScheduling, &l.scheduling, format, args...)
}
func (l *logger) Threads(format string, args ...any) { l.emit(DebugThreads, &l.threads, format, args...) }
func (l *logger) Warning(format string, args ...any) { l.emit(DebugWarning, &l.warning, format, args...) }
