package mapper

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Translator converts between the Anthropic Messages protocol and OpenAI chat
// completions. It holds no per-request state and is safe for concurrent use;
// the streaming path keeps its state in a caller-owned StreamState.
type Translator struct {
	logger logrus.FieldLogger
	hooks  []func(TranslationWarning)
}

// NewTranslator returns a Translator that logs warnings to logger and passes
// each one to the given hooks.
func NewTranslator(logger logrus.FieldLogger, hooks ...func(TranslationWarning)) *Translator {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Translator{logger: logger, hooks: hooks}
}

// WithLogger returns a copy bound to a request-scoped logger.
func (t *Translator) WithLogger(logger logrus.FieldLogger) *Translator {
	return &Translator{logger: logger, hooks: t.hooks}
}

func (t *Translator) warn(w TranslationWarning) {
	t.logger.WithField("warning", string(w.Kind)).Warnf("⚠️ translation: %s", w.Detail)
	for _, hook := range t.hooks {
		hook(w)
	}
}
