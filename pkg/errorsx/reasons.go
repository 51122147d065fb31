package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonDeviceStart   ReasonCode = "device_start"
	ReasonDeviceStop    ReasonCode = "device_stop"
	ReasonDeviceRelease ReasonCode = "device_release"

	ReasonPlaybackStart ReasonCode = "playback_start"
	ReasonPlaybackStop  ReasonCode = "playback_stop"

	ReasonTransportSubmit    ReasonCode = "transport_submit"
	ReasonTransportCancel    ReasonCode = "transport_cancel"
	ReasonTransportSubscribe ReasonCode = "transport_subscribe"

	ReasonSTTTranscribe ReasonCode = "stt_transcribe"
	ReasonNotifySend    ReasonCode = "notify_send"

	ReasonProtocol   ReasonCode = "protocol"
	ReasonValidation ReasonCode = "validation"
)

// Class groups reason codes into the propagation categories the session
// engine acts on: device and validation failures are absorbed locally,
// transport failures surface on the session, protocol failures degrade to a
// generic session error.
type Class int

const (
	ClassUnknown Class = iota
	ClassDevice
	ClassTransport
	ClassValidation
	ClassProtocol
)

// Classify maps an error's reason code to its propagation class.
func Classify(err error) Class {
	switch Reason(err) {
	case ReasonDeviceStart, ReasonDeviceStop, ReasonDeviceRelease,
		ReasonPlaybackStart, ReasonPlaybackStop:
		return ClassDevice
	case ReasonTransportSubmit, ReasonTransportCancel, ReasonTransportSubscribe,
		ReasonSTTTranscribe, ReasonNotifySend:
		return ClassTransport
	case ReasonValidation:
		return ClassValidation
	case ReasonProtocol:
		return ClassProtocol
	default:
		return ClassUnknown
	}
}
