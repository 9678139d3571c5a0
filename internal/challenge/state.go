package challenge

// State is a resolution state.
type State int

// Resolution states.
const (
	StateStart State = iota
	StateWarmUp
	StateAwaitingCode
	StateSubmit
	StateResolved
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateWarmUp:
		return "warm_up"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateSubmit:
		return "submit"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Path is the negotiation path revealed by the warm-up.
type Path string

const (
	// PathLegacy submits the code form-encoded to the challenge path.
	PathLegacy Path = "legacy"
	// PathStructured submits a JSON mutation carrying the challenge
	// context.
	PathStructured Path = "structured"
)

// Channel is the out-of-band delivery channel.
type Channel string

// Delivery channels.
const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelUnknown Channel = "unknown"
)

// Context is the negotiation state gathered during warm-up.
type Context struct {
	// URL is the absolute challenge endpoint.
	URL string
	// Path is the negotiation path the code is submitted over.
	Path Path
	// ChallengeContext is the opaque token of the structured path.
	ChallengeContext string
	// StepName is the legacy step identifier.
	StepName string
	// NonceCode is the legacy per-challenge nonce, if any.
	NonceCode string
	// CSRFToken is a form token found on a web checkpoint page.
	CSRFToken string
	Channel   Channel
	// Contact is the masked contact point the code was sent to.
	Contact string
}
