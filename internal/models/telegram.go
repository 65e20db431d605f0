package models

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage is the rendered input of a run notification.
type TelegramMessage struct {
	Host        string
	StorageRoot string
	Summary     *RunSummary // nil when the run failed
	FailedStage string
	Err         error
	Usage       *Usage // nil when the snapshot could not be measured
}

// Success reports whether the notification describes a successful run.
func (m TelegramMessage) Success() bool {
	return m.Err == nil && m.Summary != nil
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
