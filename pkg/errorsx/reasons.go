package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCaptureUnavailable ReasonCode = "capture_unavailable"
	ReasonCaptureStart       ReasonCode = "capture_start"
	ReasonCaptureStream      ReasonCode = "capture_stream"

	ReasonDispatchTransport   ReasonCode = "dispatch_transport"
	ReasonDispatchStatus      ReasonCode = "dispatch_status"
	ReasonDispatchDecode      ReasonCode = "dispatch_decode"
	ReasonDispatchRateLimit   ReasonCode = "dispatch_rate_limit"
	ReasonDispatchCircuitOpen ReasonCode = "dispatch_circuit_open"

	ReasonNotifySend ReasonCode = "notify_send"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonTransportSend ReasonCode = "transport_send"
	ReasonConfigInvalid ReasonCode = "config_invalid"
)
