package otel

import "go.opentelemetry.io/otel/attribute"

// Standard attribute keys for aria services.
const (
	AttrSessionID           = "session.id"
	AttrUserID              = "user.id"
	AttrRequestID           = "request.id"
	AttrTurnIndex           = "turn.index"
	AttrLLMModel            = "llm.model"
	AttrLLMPromptTokens     = "llm.usage.prompt_tokens"
	AttrLLMCompletionTokens = "llm.usage.completion_tokens"
	AttrLLMTotalTokens      = "llm.usage.total_tokens"
	AttrSTTModel            = "stt.model"
	AttrSTTDurationMs       = "stt.duration_ms"
	AttrSTTLatencyMs        = "stt.latency_ms"
	AttrTTSModel            = "tts.model"
	AttrTTSVoice            = "tts.voice"
	AttrTTSDurationMs       = "tts.duration_ms"
	AttrTTSLatencyMs        = "tts.latency_ms"
	AttrBusSubject          = "bus.subject"
	AttrBusQueue            = "bus.queue"
	AttrLogTopic            = "log.topic"
	AttrContextSize         = "context.size"
	AttrDegraded            = "reasoning.degraded"
)

func SessionID(id string) attribute.KeyValue  { return attribute.String(AttrSessionID, id) }
func UserID(id string) attribute.KeyValue     { return attribute.String(AttrUserID, id) }
func RequestID(id string) attribute.KeyValue  { return attribute.String(AttrRequestID, id) }
func TurnIndex(n int) attribute.KeyValue      { return attribute.Int(AttrTurnIndex, n) }

func LLMModel(model string) attribute.KeyValue     { return attribute.String(AttrLLMModel, model) }
func LLMPromptTokens(n int) attribute.KeyValue     { return attribute.Int(AttrLLMPromptTokens, n) }
func LLMCompletionTokens(n int) attribute.KeyValue { return attribute.Int(AttrLLMCompletionTokens, n) }
func LLMTotalTokens(n int) attribute.KeyValue      { return attribute.Int(AttrLLMTotalTokens, n) }

func STTModel(model string) attribute.KeyValue  { return attribute.String(AttrSTTModel, model) }
func STTDurationMs(ms int64) attribute.KeyValue { return attribute.Int64(AttrSTTDurationMs, ms) }
func STTLatencyMs(ms int64) attribute.KeyValue  { return attribute.Int64(AttrSTTLatencyMs, ms) }

func TTSModel(model string) attribute.KeyValue  { return attribute.String(AttrTTSModel, model) }
func TTSVoice(voice string) attribute.KeyValue  { return attribute.String(AttrTTSVoice, voice) }
func TTSDurationMs(ms int64) attribute.KeyValue { return attribute.Int64(AttrTTSDurationMs, ms) }
func TTSLatencyMs(ms int64) attribute.KeyValue  { return attribute.Int64(AttrTTSLatencyMs, ms) }

func BusSubject(subject string) attribute.KeyValue { return attribute.String(AttrBusSubject, subject) }
func BusQueue(queue string) attribute.KeyValue     { return attribute.String(AttrBusQueue, queue) }
func LogTopic(topic string) attribute.KeyValue     { return attribute.String(AttrLogTopic, topic) }
func ContextSize(n int) attribute.KeyValue         { return attribute.Int(AttrContextSize, n) }
func Degraded(v bool) attribute.KeyValue           { return attribute.Bool(AttrDegraded, v) }
