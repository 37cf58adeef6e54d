package telegram

import (
	"fmt"

	"go.uber.org/zap"
)

// zapBotLogger adapts zap to tgbotapi.BotLogger so library logs go through zap.
type zapBotLogger struct {
	log *zap.SugaredLogger
}

func (z *zapBotLogger) Println(v ...any) {
	z.log.Warn(fmt.Sprint(v...))
}

func (z *zapBotLogger) Printf(format string, v ...any) {
	z.log.Warnf(format, v...)
}
