package logger

// Intention represents the semantic intent of a log line, orthogonal to level.
// The console handler maps it to an icon; file logs keep it as a structured key.
type Intention string

const (
	IntentionDetect     Intention = "detect"
	IntentionInject     Intention = "inject"
	IntentionChannel    Intention = "channel"
	IntentionCommand    Intention = "command"
	IntentionObserve    Intention = "observe"
	IntentionStatistics Intention = "statistics"
	IntentionStatus     Intention = "status"
	IntentionWarning    Intention = "warning" // no icon mapping; level handles emphasis
	IntentionError      Intention = "error"   // no icon mapping; level handles emphasis
	IntentionSuccess    Intention = "success"
	IntentionDebug      Intention = "debug"
	IntentionConfig     Intention = "config"
)

// iconFor returns a short emoji string for console output for the intention.
func iconFor(i Intention) string {
	switch i {
	case IntentionDetect:
		return "🎯"
	case IntentionInject:
		return "💉"
	case IntentionChannel:
		return "📨"
	case IntentionCommand:
		return "🔧"
	case IntentionObserve:
		return "👀"
	case IntentionStatistics:
		return "📊"
	case IntentionStatus:
		return "ℹ️"
	case IntentionSuccess:
		return "✅"
	case IntentionDebug:
		return "🛠️"
	case IntentionConfig:
		return "⚙️"
	default:
		return "➤"
	}
}
